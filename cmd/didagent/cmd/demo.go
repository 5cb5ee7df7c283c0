package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pilacorp/go-did-agent/credential/issuer"
	"github.com/pilacorp/go-did-agent/credential/vc"
	"github.com/pilacorp/go-did-agent/credential/verifier"
	"github.com/pilacorp/go-did-agent/did"
	"github.com/pilacorp/go-did-agent/kms"
)

// demoKey is a well-known development key. Never use it outside a local chain.
const demoKey = "2e61ecd84e20a343231f82e0b89067d32c4fb26e8db1af65e071edcc96ad2f34"

type demoFlags struct {
	privateKey string
	kms        string
	subject    string
	role       string
	endpoint   string
}

type demoOutput struct {
	DID                string           `json:"did"`
	Document           *did.Document    `json:"didDocument"`
	Credential         string           `json:"credential"`
	CredentialResult   *verifier.Result `json:"credentialResult"`
	Presentation       string           `json:"presentation"`
	PresentationResult *verifier.Result `json:"presentationResult"`
}

func newDemoCmd(root *rootFlags) *cobra.Command {
	flags := &demoFlags{}

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run the import, resolve, issue and verify workflow",
		Long: "demo imports a secp256k1 key, derives and imports its DID, adds a service, " +
			"resolves the document, then issues and verifies a credential and a presentation.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDemo(cmd, root, flags)
		},
	}

	cmd.Flags().StringVar(&flags.privateKey, "private-key", demoKey, "hex-encoded secp256k1 private key")
	cmd.Flags().StringVar(&flags.kms, "kms", kms.DefaultKMS, "KMS holding the imported key")
	cmd.Flags().StringVar(&flags.subject, "subject", "Alice", "credential subject id")
	cmd.Flags().StringVar(&flags.role, "role", "tester", "credential subject role")
	cmd.Flags().StringVar(&flags.endpoint, "endpoint", "http://example.com", "service endpoint added to the DID")

	return cmd
}

func runDemo(cmd *cobra.Command, root *rootFlags, flags *demoFlags) error {
	ctx := cmd.Context()

	cfg, a, logger, err := root.load(ctx)
	if err != nil {
		return fmt.Errorf("init agent: %w", err)
	}

	defer release(a, logger)

	key, err := a.ImportKey(ctx, flags.kms, kms.Secp256k1, flags.privateKey)
	if err != nil {
		return fmt.Errorf("import key: %w", err)
	}

	didStr, err := did.NewEthrProvider(cfg.Method, cfg.ChainID).Derive(*key)
	if err != nil {
		return fmt.Errorf("derive did: %w", err)
	}

	if _, err = a.ImportIdentifier(ctx, did.ImportArgs{
		DID:             didStr,
		ControllerKeyID: key.KID,
		Keys:            []did.KeyArgs{{KID: key.KID}},
	}); err != nil {
		return fmt.Errorf("import identifier: %w", err)
	}

	if _, err = a.AddService(ctx, didStr, did.Service{
		ID:              "svc1",
		Type:            "test",
		ServiceEndpoint: flags.endpoint,
	}); err != nil {
		return fmt.Errorf("add service: %w", err)
	}

	doc, err := a.Resolve(ctx, didStr)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", didStr, err)
	}

	c, err := a.IssueCredential(ctx, issuer.CredentialRequest{
		Issuer:  didStr,
		Subject: map[string]interface{}{"id": flags.subject, "role": flags.role},
	})
	if err != nil {
		return fmt.Errorf("issue credential: %w", err)
	}

	cres, err := a.Verify(ctx, c.JWT())
	if err != nil {
		return fmt.Errorf("verify credential: %w", err)
	}

	p, err := a.IssuePresentation(ctx, issuer.PresentationRequest{
		Holder:      didStr,
		Credentials: []*vc.Credential{c},
	})
	if err != nil {
		return fmt.Errorf("issue presentation: %w", err)
	}

	pres, err := a.Verify(ctx, p.JWT())
	if err != nil {
		return fmt.Errorf("verify presentation: %w", err)
	}

	return printJSON(cmd.OutOrStdout(), demoOutput{
		DID:                didStr,
		Document:           doc,
		Credential:         c.JWT(),
		CredentialResult:   cres,
		Presentation:       p.JWT(),
		PresentationResult: pres,
	})
}
