package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/souschef/souschef/internal/config"
)

// --- profile ---

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage the taste profile",
}

var profileShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current profile as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/profile")
		if err != nil {
			return err
		}

		var prof any
		if err := decodeJSON(resp, &prof); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(prof)
	},
}

var profileSetCmd = &cobra.Command{
	Use:   "set <field> <value>",
	Short: "Set a manual preference field (allergies, cuisines, dislikes)",
	Long: `Set a manual preference field. Manual fields always win over learned data.

Examples:
  souschef profile set allergies "peanuts, shellfish"
  souschef profile set cuisines "Thai, Mexican"
  souschef profile set dislikes "cilantro"`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		field, value := strings.ToLower(args[0]), args[1]

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		// Manual is replaced wholesale, so fetch the current values first.
		manual := map[string]string{}
		if resp, err := client.get(cmd.Context(), "/profile"); err == nil {
			var prof struct {
				Manual map[string]string `json:"manual"`
			}
			if resp.StatusCode == 404 {
				resp.Body.Close()
			} else if decodeJSON(resp, &prof) == nil && prof.Manual != nil {
				manual = prof.Manual
			}
		}

		switch field {
		case "allergies", "cuisines", "dislikes":
			manual[field] = value
		default:
			return fmt.Errorf("unknown field %q (valid: allergies, cuisines, dislikes)", field)
		}

		resp, err := client.put(cmd.Context(), "/profile/manual", manual)
		if err != nil {
			return err
		}
		var result any
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Set %s = %s", field, value)
		return nil
	},
}

var profileResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset learned preferences (manual settings are kept)",
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This will discard all learned preferences. Use --confirm to proceed.")
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/profile/reset-learned", nil)
		if err != nil {
			return err
		}
		var result any
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Learned preferences reset")
		return nil
	},
}

func init() {
	profileResetCmd.Flags().Bool("confirm", false, "confirm the reset")
	profileCmd.AddCommand(profileShowCmd)
	profileCmd.AddCommand(profileSetCmd)
	profileCmd.AddCommand(profileResetCmd)
}

// --- prompt ---

var promptCmd = &cobra.Command{
	Use:   "prompt",
	Short: "Print the preference summary injected into assistant prompts",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/profile/prompt")
		if err != nil {
			return err
		}

		var result struct {
			Prompt string `json:"prompt"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if result.Prompt == "" {
			fmt.Println("No preferences learned yet.")
			return nil
		}
		fmt.Println(result.Prompt)
		return nil
	},
}

// --- signal ---

var signalCmd = &cobra.Command{
	Use:   "signal",
	Short: "Feed learning signals into the profile",
}

var signalMergeCmd = &cobra.Command{
	Use:   "merge <json>",
	Short: "Merge a signal JSON object into the profile",
	Long: `Merge a signal JSON object into the profile.

Example:
  souschef signal merge '{"tastes":{"cuisines":[{"cuisine":"Thai","score":0.9}]}}'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		session, _ := cmd.Flags().GetBool("session")

		var sig map[string]any
		if err := json.Unmarshal([]byte(args[0]), &sig); err != nil {
			return fmt.Errorf("invalid signal JSON: %w", err)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/signals"
		if session {
			path = "/signals/session"
		}
		resp, err := client.post(cmd.Context(), path, sig)
		if err != nil {
			return err
		}
		var result any
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Signal merged")
		return nil
	},
}

var signalPassiveCmd = &cobra.Command{
	Use:   "passive <type>",
	Short: "Log a passive behavioral signal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dataStr, _ := cmd.Flags().GetString("data")

		req := map[string]any{"type": args[0]}
		if dataStr != "" {
			var data map[string]any
			if err := json.Unmarshal([]byte(dataStr), &data); err != nil {
				return fmt.Errorf("invalid data JSON: %w", err)
			}
			req["data"] = data
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/signals/passive", req)
		if err != nil {
			return err
		}
		var result any
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Logged %s", args[0])
		return nil
	},
}

func init() {
	signalMergeCmd.Flags().Bool("session", false, "count this signal as a completed session")
	signalPassiveCmd.Flags().String("data", "", "JSON object with signal details")
	signalCmd.AddCommand(signalMergeCmd)
	signalCmd.AddCommand(signalPassiveCmd)
}

// --- onboard ---

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Run the interactive onboarding chat",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		type message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		}
		var history []message

		exchange := func() (string, bool, error) {
			resp, err := client.post(cmd.Context(), "/onboarding/chat", map[string]any{"messages": history})
			if err != nil {
				return "", false, err
			}
			var reply struct {
				Message string `json:"message"`
				Done    bool   `json:"done"`
			}
			if err := decodeJSON(resp, &reply); err != nil {
				return "", false, err
			}
			return reply.Message, reply.Done, nil
		}

		// Opening greeting.
		msg, done, err := exchange()
		if err != nil {
			return err
		}
		fmt.Printf("\n%s %s\n", colorize(colorBold, "souschef:"), msg)
		history = append(history, message{Role: "assistant", Content: msg})

		scanner := bufio.NewScanner(os.Stdin)
		for !done {
			fmt.Print(colorize(colorCyan, "\nyou: "))
			if !scanner.Scan() {
				break
			}
			input := strings.TrimSpace(scanner.Text())
			if input == "" {
				continue
			}
			history = append(history, message{Role: "user", Content: input})

			msg, done, err = exchange()
			if err != nil {
				return err
			}
			fmt.Printf("\n%s %s\n", colorize(colorBold, "souschef:"), msg)
			history = append(history, message{Role: "assistant", Content: msg})
		}

		if done {
			printSuccess("Onboarding complete")
		}
		return scanner.Err()
	},
}

// --- recipes ---

var recipesCmd = &cobra.Command{
	Use:   "recipes",
	Short: "Manage the recipe collection",
}

var recipesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved recipes",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/recipes?limit=%d", limit))
		if err != nil {
			return err
		}

		var recs []struct {
			ID        string `json:"id"`
			Title     string `json:"title"`
			Source    string `json:"source"`
			CookCount int    `json:"cookCount"`
			CreatedAt string `json:"createdAt"`
		}
		if err := decodeJSON(resp, &recs); err != nil {
			return err
		}

		if len(recs) == 0 {
			fmt.Println("No recipes saved yet.")
			return nil
		}

		for _, rec := range recs {
			cooked := ""
			if rec.CookCount > 0 {
				cooked = fmt.Sprintf("  cooked %dx", rec.CookCount)
			}
			id := rec.ID
			if len(id) > 8 {
				id = id[:8]
			}
			fmt.Printf("%s  %-10s %s%s\n", colorize(colorCyan, id), rec.Source, rec.Title, cooked)
		}
		return nil
	},
}

var recipesShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single recipe as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/recipes/"+args[0])
		if err != nil {
			return err
		}

		var rec any
		if err := decodeJSON(resp, &rec); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	},
}

var recipesSaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Save a recipe from a file or text",
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")
		text, _ := cmd.Flags().GetString("text")
		file, _ := cmd.Flags().GetString("file")
		tagsStr, _ := cmd.Flags().GetString("tags")

		if title == "" {
			return fmt.Errorf("--title is required")
		}
		if text == "" && file == "" {
			return fmt.Errorf("one of --text or --file is required")
		}
		if file != "" {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}
			text = string(data)
		}

		req := map[string]any{
			"title":      title,
			"pinnedText": text,
			"source":     "manual",
		}
		if tagsStr != "" {
			tags := strings.Split(tagsStr, ",")
			for i := range tags {
				tags[i] = strings.TrimSpace(tags[i])
			}
			req["tags"] = tags
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/recipes", req)
		if err != nil {
			return err
		}
		var rec struct {
			ID string `json:"id"`
		}
		if err := decodeJSON(resp, &rec); err != nil {
			return err
		}

		printSuccess("Saved recipe %s", rec.ID)
		return nil
	},
}

var recipesCookedCmd = &cobra.Command{
	Use:   "cooked <id>",
	Short: "Mark a recipe cooked and record feedback",
	Long: `Mark a recipe cooked and record feedback. The session is analyzed in
the background and folds into the taste profile.

Example:
  souschef recipes cooked 4f1c2a --rating 5 --taste 5 --effort 2 --notes "family loved it"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rating, _ := cmd.Flags().GetInt("rating")
		taste, _ := cmd.Flags().GetInt("taste")
		effort, _ := cmd.Flags().GetInt("effort")
		notes, _ := cmd.Flags().GetString("notes")
		tagsStr, _ := cmd.Flags().GetString("tags")

		req := map[string]any{
			"rating":       rating,
			"tasteRating":  taste,
			"effortRating": effort,
			"notes":        notes,
		}
		if tagsStr != "" {
			tags := strings.Split(tagsStr, ",")
			for i := range tags {
				tags[i] = strings.TrimSpace(tags[i])
			}
			req["tags"] = tags
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/recipes/"+args[0]+"/cooked", req)
		if err != nil {
			return err
		}
		var rec struct {
			CookCount int `json:"cookCount"`
		}
		if err := decodeJSON(resp, &rec); err != nil {
			return err
		}

		printSuccess("Recorded cook #%d — learning from this session in the background", rec.CookCount)
		return nil
	},
}

var recipesImportCmd = &cobra.Command{
	Use:   "import <url-or-pdf>",
	Short: "Import a recipe from a URL or a PDF file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := args[0]

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var resp *http.Response
		if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
			printStep("Importing from %s...", target)
			resp, err = client.post(cmd.Context(), "/recipes/import/url", map[string]string{"url": target})
		} else {
			printStep("Importing PDF %s...", target)
			var data []byte
			data, err = os.ReadFile(target)
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}
			resp, err = client.postRaw(cmd.Context(), "/recipes/import/pdf", "application/pdf", data)
		}
		if err != nil {
			return err
		}

		var rec struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		}
		if err := decodeJSON(resp, &rec); err != nil {
			return err
		}

		printSuccess("Imported %q (%s)", rec.Title, rec.ID)
		return nil
	},
}

var recipesBackfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Extract metadata for recipes that are missing it",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Backfilling recipe metadata...")
		resp, err := client.post(cmd.Context(), fmt.Sprintf("/recipes/backfill-metadata?limit=%d", limit), nil)
		if err != nil {
			return err
		}

		var result struct {
			Updated int `json:"updated"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Updated %d recipes", result.Updated)
		return nil
	},
}

var recipesDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a recipe",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/recipes/"+args[0])
		if err != nil {
			return err
		}
		var result any
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Deleted recipe %s", args[0])
		return nil
	},
}

func init() {
	recipesListCmd.Flags().Int("limit", 50, "maximum number of recipes to list")
	recipesSaveCmd.Flags().String("title", "", "recipe title")
	recipesSaveCmd.Flags().String("text", "", "recipe text")
	recipesSaveCmd.Flags().String("file", "", "file containing the recipe text")
	recipesSaveCmd.Flags().String("tags", "", "comma-separated tags")
	recipesCookedCmd.Flags().Int("rating", 0, "overall rating 1-5")
	recipesCookedCmd.Flags().Int("taste", 0, "taste rating 1-5")
	recipesCookedCmd.Flags().Int("effort", 0, "effort rating 1-5")
	recipesCookedCmd.Flags().String("notes", "", "freeform notes")
	recipesCookedCmd.Flags().String("tags", "", "comma-separated tags")
	recipesBackfillCmd.Flags().Int("limit", 100, "maximum recipes to process")
	recipesCmd.AddCommand(recipesListCmd)
	recipesCmd.AddCommand(recipesShowCmd)
	recipesCmd.AddCommand(recipesSaveCmd)
	recipesCmd.AddCommand(recipesCookedCmd)
	recipesCmd.AddCommand(recipesImportCmd)
	recipesCmd.AddCommand(recipesBackfillCmd)
	recipesCmd.AddCommand(recipesDeleteCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s", key)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
