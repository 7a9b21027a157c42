package cli

import (
	"github.com/spf13/cobra"

	"github.com/digitorus/signflow"
)

var linkOwner, linkTenant string

var linkCmd = &cobra.Command{
	Use:   "link <document-id> <signer-id>",
	Short: "Print the share link of a signer",
	Long: `Prints the share link token of a signer, prefixed with links.base_url
when configured. The token lets anyone holding it act as the signer.`,
	Args: cobra.ExactArgs(2),
	RunE: runLink,
}

func init() {
	linkCmd.Flags().StringVar(&linkOwner, "owner", "", "id of the document owner")
	linkCmd.Flags().StringVar(&linkTenant, "tenant", "", "tenant of the document owner")
	_ = linkCmd.MarkFlagRequired("owner")
	rootCmd.AddCommand(linkCmd)
}

func runLink(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := signflow.WithActor(cmd.Context(), signflow.Actor{ID: linkOwner, TenantID: linkTenant})
	token, err := a.workflow.IssueShareLink(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	cmd.Println(a.cfg.Links.BaseURL + token)
	return nil
}
