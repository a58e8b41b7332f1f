package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/camuig/autotrader/internal/domain"
	"github.com/camuig/autotrader/internal/rules"
)

func newRulesCmd(a *app) *cobra.Command {
	rulesCmd := &cobra.Command{
		Use:   "rules",
		Short: "Work with trading rule definitions",
	}

	rulesCmd.AddCommand(&cobra.Command{
		Use:         "validate <file>",
		Short:       "Validate the rules in a YAML file",
		Long:        "validate accepts a file with a top-level rules list, a strategies list with nested rules, or both.",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{"config": "none"},
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read rules file: %w", err)
			}
			list, err := parseRuleFile(data)
			if err != nil {
				return err
			}
			invalid := reportRules(cmd.OutOrStdout(), list)
			if invalid > 0 {
				return fmt.Errorf("%d of %d rules are invalid", invalid, len(list))
			}
			return nil
		},
	})

	return rulesCmd
}

type ruleFile struct {
	Rules      []domain.TradingRule      `yaml:"rules"`
	Strategies []domain.DeploymentConfig `yaml:"strategies"`
}

func parseRuleFile(data []byte) ([]domain.TradingRule, error) {
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rules file: %w", err)
	}
	list := f.Rules
	for _, s := range f.Strategies {
		for i, r := range s.Rules {
			if r.StrategyID == "" {
				r.StrategyID = s.StrategyID
			}
			if r.ID == "" {
				r.ID = fmt.Sprintf("%s-%d", s.StrategyID, i+1)
			}
			list = append(list, r)
		}
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("no rules found")
	}
	return list, nil
}

// reportRules prints one verdict per rule and returns how many failed.
func reportRules(w io.Writer, list []domain.TradingRule) int {
	invalid := 0
	for i, r := range list {
		name := r.Name
		if name == "" {
			name = r.ID
		}
		if name == "" {
			name = fmt.Sprintf("rule #%d", i+1)
		}

		res := rules.Validate(r)
		if res.IsValid {
			fmt.Fprintf(w, "%s %s\n", successStyle.Render("[OK]  "), name)
		} else {
			invalid++
			fmt.Fprintf(w, "%s %s\n", errorStyle.Render("[FAIL]"), name)
		}
		for _, e := range res.Errors {
			fmt.Fprintf(w, "       %s\n", lossStyle.Render(e))
		}
		for _, warn := range res.Warnings {
			fmt.Fprintf(w, "       %s\n", warnStyle.Render(warn))
		}
	}
	return invalid
}
