package cmd

import (
	"github.com/spf13/cobra"
)

var collectionCmd = &cobra.Command{
	Use:   "collection",
	Short: "Manage collection entries",
}

var collectionAddCmd = &cobra.Command{
	Use:   "add <name> <file|->",
	Short: "Add the projection of an object to a collection",
	Args:  cobra.ExactArgs(2),
	RunE:  runCollectionAdd,
}

var collectionGetCmd = &cobra.Command{
	Use:   "get <name> <id>",
	Short: "Print a collection entry",
	Args:  cobra.ExactArgs(2),
	RunE:  runCollectionGet,
}

var collectionRemoveCmd = &cobra.Command{
	Use:   "remove <name> <id>",
	Short: "Remove an object from a collection",
	Args:  cobra.ExactArgs(2),
	RunE:  runCollectionRemove,
}

func init() {
	collectionCmd.AddCommand(collectionAddCmd, collectionGetCmd, collectionRemoveCmd)
	rootCmd.AddCommand(collectionCmd)
}

func runCollectionAdd(cmd *cobra.Command, args []string) (err error) {
	obj, err := readObject(args[1])
	if err != nil {
		return err
	}

	s, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	return s.AddToCollection(cmd.Context(), obj, args[0])
}

func runCollectionGet(cmd *cobra.Command, args []string) (err error) {
	s, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	entry, err := s.GetFromCollection(cmd.Context(), args[1], args[0])
	if err != nil {
		return err
	}
	return printJSON(entry)
}

func runCollectionRemove(cmd *cobra.Command, args []string) (err error) {
	s, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	return s.RemoveFromCollection(cmd.Context(), args[1], args[0])
}
