package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/input-output-hk/catalyst-forge-libs/gitclient"
)

type clientFactory func(cmd *cobra.Command) (*gitclient.Client, error)

func newLsRemoteCommand(newClient clientFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "ls-remote URL",
		Short: "List references of a remote repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			refs, err := c.LsRemote(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			names := make([]string, 0, len(refs))
			for name := range refs {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", refs[name], name)
			}
			return nil
		},
	}
}

func newCloneCommand(newClient clientFactory) *cobra.Command {
	var submodules bool
	c := &cobra.Command{
		Use:   "clone URL DIRECTORY",
		Short: "Clone a repository",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			if err := c.Clone(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			if !submodules {
				return nil
			}
			_, err = c.SubmoduleUpdate(cmd.Context(), args[1])
			return err
		},
	}
	c.Flags().BoolVar(&submodules, "recurse-submodules", false, "update submodules after cloning")
	return c
}

func newFetchCommand(newClient clientFactory) *cobra.Command {
	var remote string
	c := &cobra.Command{
		Use:   "fetch DIRECTORY...",
		Short: "Fetch a remote into one or more repositories",
		Long: `Fetch a remote into one or more repositories.

Repositories are fetched independently, up to --jobs at a time. The first
failure stops the remaining fetches.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				return c.Fetch(cmd.Context(), args[0], remote)
			}

			requests := make([]gitclient.FetchRequest, len(args))
			for i, dir := range args {
				requests[i] = gitclient.FetchRequest{Dir: dir, Remote: remote}
			}
			return c.FetchAll(cmd.Context(), requests)
		},
	}
	c.Flags().StringVar(&remote, "remote", gitclient.DefaultRemoteName, "remote to fetch")
	return c
}

func newSubmoduleUpdateCommand(newClient clientFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "submodule-update DIRECTORY",
		Short: "Initialize and update the submodules of a working tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			updated, err := c.SubmoduleUpdate(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, sm := range updated {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", sm.Path, sm.URL)
			}
			return nil
		},
	}
}
