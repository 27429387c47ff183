package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/aweris/activitystore"
	"github.com/aweris/activitystore/internal/ld"
)

var putCmd = &cobra.Command{
	Use:   "put <file|->",
	Short: "Store an object",
	Long:  "Store a JSON-LD object read from a file, or from stdin when the argument is -.",
	Args:  cobra.ExactArgs(1),
	RunE:  runPut,
}

var getCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Dereference an object",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

var tombstoneCmd = &cobra.Command{
	Use:   "tombstone <id>",
	Short: "Replace an object with its tombstone",
	Args:  cobra.ExactArgs(1),
	RunE:  runTombstone,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Hard-delete an object and its collection entries",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

func init() {
	rootCmd.AddCommand(putCmd, getCmd, tombstoneCmd, deleteCmd)
}

func readObject(path string) (activitystore.Object, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}
	obj, err := ld.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return obj, nil
}

func runPut(cmd *cobra.Command, args []string) (err error) {
	obj, err := readObject(args[0])
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

	id, err := s.Store(cmd.Context(), obj)
	if err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}

func runGet(cmd *cobra.Command, args []string) (err error) {
	s, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	obj, err := s.Dereference(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printJSON(obj)
}

func runTombstone(cmd *cobra.Command, args []string) (err error) {
	s, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	obj, err := s.Dereference(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	tomb, err := s.ConvertToTombstone(cmd.Context(), obj)
	if err != nil {
		return err
	}
	return printJSON(tomb)
}

func runDelete(cmd *cobra.Command, args []string) (err error) {
	s, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	return s.Remove(cmd.Context(), args[0])
}
