package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var keywordsCmd = &cobra.Command{
	Use:   "keywords",
	Short: "Manage the self-learned bot-detection keyword list",
}

var keywordsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all block keywords",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(context.Background())
		if err != nil {
			return err
		}
		defer a.close()

		kws, err := a.memory.GetBotKeywords()
		if err != nil {
			return err
		}
		for _, k := range kws {
			fmt.Println(k)
		}
		return nil
	},
}

var keywordsAddCmd = &cobra.Command{
	Use:   "add [keyword]",
	Short: "Add a block keyword",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(context.Background())
		if err != nil {
			return err
		}
		defer a.close()
		return a.memory.AddBotKeyword(args[0])
	},
}

var keywordsDeleteCmd = &cobra.Command{
	Use:   "delete [keyword]",
	Short: "Delete a block keyword",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(context.Background())
		if err != nil {
			return err
		}
		defer a.close()
		return a.memory.DeleteBotKeyword(args[0])
	},
}

func init() {
	keywordsCmd.AddCommand(keywordsListCmd)
	keywordsCmd.AddCommand(keywordsAddCmd)
	keywordsCmd.AddCommand(keywordsDeleteCmd)
}
