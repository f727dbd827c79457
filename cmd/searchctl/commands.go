package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/internal/dispatcher"
	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/kafka"
)

var (
	queryText string
	queryPage int
	eventType string
	topic     string
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search indexed pages",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := connect()
		if err != nil {
			return err
		}
		defer c.Close()
		reply, err := c.Search(queryText)
		if err != nil {
			return err
		}
		page := dispatcher.Paginate(queryText, reply, max(queryPage, 1), cfg.Dispatcher.PageSize)
		if jsonOutput {
			return printJSON(page)
		}
		fmt.Printf("%d results for %v (page %d of %d, served by %s)\n\n", page.Total, page.Terms, page.Page, page.Pages, page.Node)
		for _, r := range page.Results {
			fmt.Printf("%s\n  %s\n  %s\n\n", r.Title, r.URL, r.Snippet)
		}
		return nil
	},
}

var addURLCmd = &cobra.Command{
	Use:   "add-url URL",
	Short: "Submit a URL for crawling",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := connect()
		if err != nil {
			return err
		}
		defer c.Close()
		reply, err := c.AddURL(args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(reply)
		}
		fmt.Printf("queued as #%d on %v\n", reply.Seq, reply.AcceptedBy)
		return nil
	},
}

var inlinksCmd = &cobra.Command{
	Use:   "inlinks URL",
	Short: "List pages linking to URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := connect()
		if err != nil {
			return err
		}
		defer c.Close()
		sources, err := c.InLinks(args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(sources)
		}
		for _, s := range sources {
			fmt.Println(s)
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show node and query statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := connect()
		if err != nil {
			return err
		}
		defer c.Close()
		st, err := c.Stats()
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(st)
		}
		fmt.Println("NODE\tUP\tCIRCUIT\tPAGES\tTERMS\tFRONTIER\tSEARCH_MS\tCALL_MS")
		for _, n := range st.Nodes {
			fmt.Printf("%s\t%v\t%s\t%d\t%d\t%d\t%.2f\t%.2f\n",
				n.Name, n.Reachable, n.Circuit, n.Stats.Pages, n.Stats.Terms, n.Stats.Frontier,
				n.Stats.AvgLatencyMs, n.ObservedLatencyMs)
		}
		fmt.Println("\nTOP TERMS")
		for i, tc := range st.TopTerms {
			fmt.Printf("%2d. %s (%d)\n", i+1, tc.Term, tc.Count)
		}
		return nil
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Tail crawl or search events from Kafka",
	RunE: func(cmd *cobra.Command, args []string) error {
		if topic == "" {
			topic = cfg.Kafka.Topics.SearchEvents
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		consumer := kafka.NewConsumer(cfg.Kafka, topic, func(ctx context.Context, msg kafka.Message) error {
			if eventType != "" && msg.Type != eventType {
				return nil
			}
			fmt.Printf("%s\t%s\t%s\t%s\n", msg.Time.Format(time.RFC3339), msg.Key, msg.Type, msg.Value)
			return nil
		})
		return consumer.Start(ctx)
	},
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	searchCmd.Flags().StringVarP(&queryText, "query", "q", "", "search query (required)")
	searchCmd.Flags().IntVarP(&queryPage, "page", "p", 1, "result page, 10 results each by default")
	searchCmd.MarkFlagRequired("query")
	eventsCmd.Flags().StringVar(&topic, "topic", "", "topic to read (default: search events topic)")
	eventsCmd.Flags().StringVar(&eventType, "type", "", "only print events of this type (page_indexed, search, url_added)")

	rootCmd.AddCommand(searchCmd, addURLCmd, inlinksCmd, statsCmd, eventsCmd)
}
