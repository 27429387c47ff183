package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aweris/activitystore"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Sync objects with OCI registries",
}

var snapshotPushCmd = &cobra.Command{
	Use:   "push <ref>",
	Short: "Push all objects to a registry",
	Long:  "Export every canonical object of the namespace as an OCI image. Collections are not included.",
	Args:  cobra.ExactArgs(1),
	RunE:  runSnapshotPush,
}

var snapshotPullCmd = &cobra.Command{
	Use:   "pull <ref>",
	Short: "Pull objects from a registry",
	Long:  "Import every object of a snapshot image, overwriting objects with the same id.",
	Args:  cobra.ExactArgs(1),
	RunE:  runSnapshotPull,
}

func init() {
	flags := snapshotCmd.PersistentFlags()
	flags.String("username", "", "registry username (default: docker credentials)")
	flags.String("password", "", "registry password")
	flags.Int("concurrency", 0, "parallel layer transfers")

	viper.BindPFlag("registry.username", flags.Lookup("username"))
	viper.BindPFlag("registry.password", flags.Lookup("password"))
	viper.BindPFlag("registry.concurrency", flags.Lookup("concurrency"))

	snapshotCmd.AddCommand(snapshotPushCmd, snapshotPullCmd)
	rootCmd.AddCommand(snapshotCmd)
}

func openRemote(ref string) (*activitystore.OCIRemote, error) {
	log, err := newLogger()
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	opts := []activitystore.RemoteOption{
		activitystore.WithRemoteLogger(log),
		activitystore.WithConcurrency(viper.GetInt("registry.concurrency")),
	}
	if user := viper.GetString("registry.username"); user != "" {
		opts = append(opts, activitystore.WithBasicAuth(user, viper.GetString("registry.password")))
	}
	return activitystore.OpenRemote(ref, opts...)
}

func runSnapshotPush(cmd *cobra.Command, args []string) (err error) {
	ref := args[0]

	r, err := openRemote(ref)
	if err != nil {
		return err
	}
	defer r.Close()

	s, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	fmt.Fprintf(os.Stderr, "Pushing %s...\n", ref)

	n, err := s.Export(cmd.Context(), r)
	if err != nil {
		return fmt.Errorf("push failed: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Done. %d objects.\n", n)
	return nil
}

func runSnapshotPull(cmd *cobra.Command, args []string) (err error) {
	ref := args[0]

	r, err := openRemote(ref)
	if err != nil {
		return err
	}
	defer r.Close()

	s, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	fmt.Fprintf(os.Stderr, "Pulling %s...\n", ref)

	n, err := s.Import(cmd.Context(), r)
	if err != nil {
		return fmt.Errorf("pull failed: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Done. %d objects.\n", n)
	return nil
}
