package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/diligence-cli/internal/knowledge"
	"github.com/sells-group/diligence-cli/internal/model"
	"github.com/sells-group/diligence-cli/internal/pipeline"
	"github.com/sells-group/diligence-cli/internal/store"
)

var companyCmd = &cobra.Command{
	Use:   "company",
	Short: "Manage company profiles",
}

// -- company import --

var companyImportCmd = &cobra.Command{
	Use:   "import <file.json>",
	Short: "Create or update companies from a JSON file (one object or an array)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("store"); err != nil {
			return err
		}

		data, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrap(err, "company import: read file")
		}
		companies, err := parseCompanies(data)
		if err != nil {
			return err
		}

		st, _, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		for i := range companies {
			if err := st.UpsertCompany(ctx, &companies[i]); err != nil {
				return eris.Wrapf(err, "company import: upsert %s", companies[i].ID)
			}
		}

		zap.L().Info("import complete",
			zap.Int("companies", len(companies)),
			zap.String("file", args[0]),
		)
		return nil
	},
}

// parseCompanies decodes one company or a list of companies and validates
// each.
func parseCompanies(data []byte) ([]model.Company, error) {
	data = bytes.TrimSpace(data)
	var companies []model.Company
	if len(data) > 0 && data[0] == '[' {
		if err := json.Unmarshal(data, &companies); err != nil {
			return nil, eris.Wrap(err, "company import: decode list")
		}
	} else {
		var c model.Company
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, eris.Wrap(err, "company import: decode")
		}
		companies = append(companies, c)
	}
	if len(companies) == 0 {
		return nil, eris.New("company import: no companies in file")
	}
	for i := range companies {
		if err := companies[i].Validate(); err != nil {
			return nil, eris.Wrapf(err, "company import: entry %d", i)
		}
	}
	return companies, nil
}

// -- company show --

var companyShowCmd = &cobra.Command{
	Use:   "show <company-id>",
	Short: "Print a company profile as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("store"); err != nil {
			return err
		}

		st, _, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		c, err := st.GetCompany(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "company show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(c)
	},
}

// -- company delete --

var companyDeleteCmd = &cobra.Command{
	Use:   "delete <company-id>",
	Short: "Delete a company with its jobs, snapshots, activity and knowledge",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("store"); err != nil {
			return err
		}

		st, idx, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		ctrl := pipeline.New(pipeline.Config{}, st, nil, nil, knowledge.NewIndexer(idx), nil)
		if err := ctrl.DeleteCompany(ctx, args[0]); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return eris.Errorf("company %s not found", args[0])
			}
			return eris.Wrap(err, "company delete")
		}
		return nil
	},
}

func init() {
	companyCmd.AddCommand(companyImportCmd)
	companyCmd.AddCommand(companyShowCmd)
	companyCmd.AddCommand(companyDeleteCmd)
	rootCmd.AddCommand(companyCmd)
}
