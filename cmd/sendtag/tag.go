package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var tagCmd = &cobra.Command{
	Use:   "tag",
	Short: "Reserve and release tags",
}

var tagCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Reserve a tag as pending",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := newSendtag()
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Backend().CreateTag(context.Background(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "reserved %s\n", args[0])
		return nil
	},
}

var tagDeleteCmd = &cobra.Command{
	Use:   "delete NAME",
	Short: "Release a pending tag",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := newSendtag()
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Backend().DeleteTag(context.Background(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "released %s\n", args[0])
		return nil
	},
}

func init() {
	tagCmd.AddCommand(tagCreateCmd, tagDeleteCmd)
}
