package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/amparo-app/amparo/internal/config"
	"github.com/amparo-app/amparo/internal/ingest"
	"github.com/amparo-app/amparo/internal/storage"
)

// --- rules ---

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage crisis keyword rules",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List crisis rules in match order",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/rules")
		if err != nil {
			return err
		}

		var body struct {
			Rules []storage.CrisisRule `json:"rules"`
		}
		if err := decodeJSON(resp, &body); err != nil {
			return err
		}

		if len(body.Rules) == 0 {
			fmt.Println("no rules configured — run 'amparo rules seed'")
			return nil
		}
		for _, rule := range body.Rules {
			marker := " "
			if rule.RequiresIntervention {
				marker = "!"
			}
			fmt.Printf("%s [%2d] %s\n", marker, rule.Severity, strings.Join(rule.Keywords, ", "))
		}
		return nil
	},
}

var rulesSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the default Portuguese crisis rules",
	Long: `Seed the default Portuguese crisis rules.

Writes directly to the data directory, so the server does not need to be
running. Does nothing if rules already exist.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		existing, err := store.ListCrisisRules()
		if err != nil {
			return fmt.Errorf("listing rules: %w", err)
		}
		if len(existing) > 0 {
			printWarning("%d rules already configured, not seeding", len(existing))
			return nil
		}

		for _, rule := range defaultRules() {
			if _, err := store.SaveCrisisRule(rule); err != nil {
				return fmt.Errorf("saving rule %v: %w", rule.Keywords, err)
			}
		}
		printSuccess("Seeded %d crisis rules", len(defaultRules()))
		return nil
	},
}

// defaultRules is the stock Portuguese rule set, ordered most severe first
// so first-match-wins checks the gravest keywords before the milder ones.
func defaultRules() []storage.CrisisRule {
	return []storage.CrisisRule{
		{
			Keywords:             []string{"suicídio", "me matar", "acabar com tudo", "não aguento mais viver"},
			Severity:             10,
			Response:             "Sinto muito que você esteja passando por isso. Você não está sozinho. Ligue agora para o CVV no 188 — é gratuito e funciona 24 horas. Se estiver em perigo imediato, ligue 192.",
			RequiresIntervention: true,
			Position:             1,
		},
		{
			Keywords:             []string{"overdose", "tomei demais", "me machucar"},
			Severity:             9,
			Response:             "Sua segurança vem em primeiro lugar. Ligue 192 (SAMU) imediatamente ou peça para alguém próximo ajudar. Depois, estarei aqui para conversar.",
			RequiresIntervention: true,
			Position:             2,
		},
		{
			Keywords:             []string{"recaí", "recaída", "voltei a usar"},
			Severity:             6,
			Response:             "Uma recaída não apaga o caminho que você já percorreu. Respire, anote o que aconteceu e procure seu grupo de apoio ou padrinho hoje. Amanhã recomeçamos a contagem juntos.",
			Position:             3,
		},
		{
			Keywords:             []string{"vontade de usar", "fissura", "quero beber"},
			Severity:             5,
			Response:             "A fissura passa — em média em menos de 20 minutos. Beba água, saia do ambiente e ligue para alguém de confiança. Se quiser, me conte o que despertou a vontade.",
			Position:             4,
		},
		{
			Keywords:             []string{"sozinho", "ninguém se importa", "desamparado"},
			Severity:             3,
			Response:             "Você não está sozinho nessa. Estou aqui para conversar, e existem grupos de apoio perto de você. Quer que eu liste alguns recursos?",
			Position:             5,
		},
	}
}

// --- resources ---

var resourcesCmd = &cobra.Command{
	Use:   "resources",
	Short: "Manage crisis-support resources",
}

var resourcesImportCmd = &cobra.Command{
	Use:   "import <source>...",
	Short: "Import resources from PDF files or URLs",
	Long: `Import resources from PDF files or URLs.

Examples:
  amparo resources import --category emergency ./cartilha-cvv.pdf
  amparo resources import https://www.cvv.org.br/ https://na.org.br/`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		category, _ := cmd.Flags().GetString("category")

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		importer := ingest.NewImporter(store)
		results, err := importer.Import(cmd.Context(), args, category)
		if err != nil {
			return err
		}

		for _, res := range results {
			printSuccess("Imported %q (%d chars)", res.Title, len(res.Content))
		}
		return nil
	},
}

// --- messages ---

var messagesCmd = &cobra.Command{
	Use:   "messages",
	Short: "Inspect conversation transcripts",
}

var messagesListCmd = &cobra.Command{
	Use:   "list <conversation-id>",
	Short: "List a conversation's messages, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/conversations/%s/messages?limit=%d", args[0], limit))
		if err != nil {
			return err
		}

		var body struct {
			Messages []storage.Message `json:"messages"`
		}
		if err := decodeJSON(resp, &body); err != nil {
			return err
		}

		if len(body.Messages) == 0 {
			fmt.Println("no messages")
			return nil
		}
		for _, m := range body.Messages {
			line := fmt.Sprintf("%s  %-9s  %s", m.CreatedAt.Format("2006-01-02 15:04"), m.Role, m.Content)
			if m.Type == storage.MessageCrisis {
				line = colorize(colorRed, line+fmt.Sprintf("  [crise nível %d]", m.CrisisLevel))
			}
			fmt.Fprintln(os.Stdout, line)
		}
		return nil
	},
}

func init() {
	rulesCmd.AddCommand(rulesListCmd)
	rulesCmd.AddCommand(rulesSeedCmd)

	resourcesImportCmd.Flags().String("category", "", "category for the imported resources")
	resourcesCmd.AddCommand(resourcesImportCmd)

	messagesListCmd.Flags().Int("limit", 50, "maximum number of messages")
	messagesCmd.AddCommand(messagesListCmd)
}
