package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	vectorcore "github.com/shibudb.org/vector-core"
)

const runID = "demo"

func main() {
	dir := "./vectorcore-data"
	if len(os.Args) > 1 {
		dir = os.Args[1]
	}

	db, err := vectorcore.Open(dir)
	if err != nil {
		fmt.Printf("Failed to open database at %s: %v\n", dir, err)
		os.Exit(1)
	}
	defer db.Close()
	store := db.Store()

	reader := bufio.NewReader(os.Stdin)
	fmt.Printf("Opened %s. Commands: create <name> <dim> <cosine|euclidean|dot>, insert <coll> <key> <v1,v2,...> [json-metadata], search <coll> <v1,v2,...> <k>, get <coll> <key>, delete <coll> <key>, list, count <coll>, drop <name>, checkpoint, quit\n", dir)

	for {
		fmt.Print("> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			fmt.Println()
			break
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.EqualFold(line, "quit") || strings.EqualFold(line, "exit") {
			fmt.Println("Goodbye!")
			break
		}

		parts := strings.Fields(line)
		switch strings.ToLower(parts[0]) {
		case "create":
			if len(parts) != 4 {
				fmt.Println("Usage: create <name> <dim> <cosine|euclidean|dot>")
				continue
			}
			dim, err := strconv.Atoi(parts[2])
			if err != nil {
				fmt.Println("Bad dimension:", parts[2])
				continue
			}
			metric, ok := parseMetricName(parts[3])
			if !ok {
				fmt.Println("Unknown metric:", parts[3])
				continue
			}
			info, err := store.CreateCollection(runID, parts[1], vectorcore.CollectionConfig{Dimension: dim, Metric: metric})
			if err != nil {
				fmt.Println("Error:", err)
				continue
			}
			fmt.Printf("Created %s (dim=%d, metric=%s)\n", info.Name, info.Config.Dimension, info.Config.Metric)

		case "insert":
			if len(parts) < 4 {
				fmt.Println("Usage: insert <coll> <key> <v1,v2,...> [json-metadata]")
				continue
			}
			embedding, err := parseEmbedding(parts[3])
			if err != nil {
				fmt.Println("Bad embedding:", err)
				continue
			}
			var metadata json.RawMessage
			if len(parts) > 4 {
				metadata = json.RawMessage(strings.Join(parts[4:], " "))
				if !json.Valid(metadata) {
					fmt.Println("Metadata is not valid JSON")
					continue
				}
			}
			entry, err := store.Insert(runID, parts[1], parts[2], embedding, metadata)
			if err != nil {
				fmt.Println("Error:", err)
				continue
			}
			fmt.Printf("Inserted %s (id=%d, version=%d)\n", entry.Key, entry.VectorID, entry.Version)

		case "search":
			if len(parts) != 4 {
				fmt.Println("Usage: search <coll> <v1,v2,...> <k>")
				continue
			}
			query, err := parseEmbedding(parts[2])
			if err != nil {
				fmt.Println("Bad query:", err)
				continue
			}
			k, err := strconv.Atoi(parts[3])
			if err != nil {
				fmt.Println("Bad k:", parts[3])
				continue
			}
			matches, err := store.Search(runID, parts[1], query, k, nil)
			if err != nil {
				fmt.Println("Error:", err)
				continue
			}
			for i, m := range matches {
				fmt.Printf("%d. %s score=%.6f", i+1, m.Entry.Key, m.Score)
				if len(m.Entry.Metadata) > 0 {
					fmt.Printf(" metadata=%s", m.Entry.Metadata)
				}
				fmt.Println()
			}
			if len(matches) == 0 {
				fmt.Println("(no matches)")
			}

		case "get":
			if len(parts) != 3 {
				fmt.Println("Usage: get <coll> <key>")
				continue
			}
			entry, ok, err := store.Get(runID, parts[1], parts[2])
			if err != nil {
				fmt.Println("Error:", err)
				continue
			}
			if !ok {
				fmt.Println("(not found)")
				continue
			}
			fmt.Printf("%s id=%d version=%d embedding=%v\n", entry.Key, entry.VectorID, entry.Version, entry.Embedding)

		case "delete":
			if len(parts) != 3 {
				fmt.Println("Usage: delete <coll> <key>")
				continue
			}
			deleted, err := store.Delete(runID, parts[1], parts[2])
			if err != nil {
				fmt.Println("Error:", err)
				continue
			}
			if deleted {
				fmt.Println("Deleted", parts[2])
			} else {
				fmt.Println("(not found)")
			}

		case "list":
			for _, info := range store.ListCollections(runID) {
				fmt.Printf("%s dim=%d metric=%s count=%d\n", info.Name, info.Config.Dimension, info.Config.Metric, info.Count)
			}

		case "count":
			if len(parts) != 2 {
				fmt.Println("Usage: count <coll>")
				continue
			}
			n, err := store.Count(runID, parts[1])
			if err != nil {
				fmt.Println("Error:", err)
				continue
			}
			fmt.Println(n)

		case "drop":
			if len(parts) != 2 {
				fmt.Println("Usage: drop <name>")
				continue
			}
			if err := store.DeleteCollection(runID, parts[1]); err != nil {
				fmt.Println("Error:", err)
				continue
			}
			fmt.Println("Dropped", parts[1])

		case "checkpoint":
			if err := db.Checkpoint(); err != nil {
				fmt.Println("Error:", err)
				continue
			}
			fmt.Println("Checkpoint written")

		default:
			fmt.Println("Unknown command:", parts[0])
		}
	}
}

func parseMetricName(s string) (vectorcore.Metric, bool) {
	switch strings.ToLower(s) {
	case "cosine":
		return vectorcore.MetricCosine, true
	case "euclidean":
		return vectorcore.MetricEuclidean, true
	case "dot":
		return vectorcore.MetricDot, true
	default:
		return 0, false
	}
}

func parseEmbedding(s string) ([]float32, error) {
	fields := strings.Split(s, ",")
	out := make([]float32, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 32)
		if err != nil {
			return nil, fmt.Errorf("component %d: %w", i, err)
		}
		out[i] = float32(v)
	}
	return out, nil
}
