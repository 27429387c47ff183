package cmd

import (
	"github.com/spf13/cobra"

	"github.com/aweris/activitystore"
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query objects",
	Long:  "Query canonical objects, or the entries of one collection, and print a result page as JSON.",
	Args:  cobra.NoArgs,
	RunE:  runQuery,
}

func init() {
	queryCmd.Flags().String("text", "", "free-text filter")
	queryCmd.Flags().StringSlice("type", nil, "keep objects having any of these types")
	queryCmd.Flags().StringSlice("keyword", nil, "keep objects tagged with all of these keywords")
	queryCmd.Flags().String("sort", "", "sort field, field or field:asc|desc")
	queryCmd.Flags().Int("size", activitystore.DefaultPageSize, "page size")
	queryCmd.Flags().String("after", "", "cursor of the previous page")
	queryCmd.Flags().String("collection", "", "query one collection")

	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) (err error) {
	flags := cmd.Flags()
	text, _ := flags.GetString("text")
	types, _ := flags.GetStringSlice("type")
	keywords, _ := flags.GetStringSlice("keyword")
	sort, _ := flags.GetString("sort")
	size, _ := flags.GetInt("size")
	after, _ := flags.GetString("after")
	collection, _ := flags.GetString("collection")

	s, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	res, err := s.Query(cmd.Context(),
		activitystore.WithText(text),
		activitystore.WithType(types...),
		activitystore.WithKeywords(keywords...),
		activitystore.WithSort(sort),
		activitystore.WithSize(size),
		activitystore.WithAfter(after),
		activitystore.WithCollection(collection),
	)
	if err != nil {
		return err
	}
	return printJSON(res)
}
