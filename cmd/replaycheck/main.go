// replaycheck is a diagnostic tool: it runs the ingestion stages against a
// single replay file and prints what the pipeline would see.
//
//	replaycheck [-full] [-rules rules.yaml] <replay-file>
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/park285/ladder-replay-ingest/internal/replay"
	"github.com/park285/ladder-replay-ingest/internal/rules"
)

func main() {
	full := flag.Bool("full", false, "run the full stage-2 analysis")
	rulesPath := flag.String("rules", "", "optional rules override file")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: replaycheck [-full] [-rules rules.yaml] <replay-file>")
		os.Exit(2)
	}
	path := flag.Arg(0)

	catalog, err := rules.New(*rulesPath)
	if err != nil {
		log.Fatalf("rules catalog error: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("read %s: %v", path, err)
	}
	text, err := replay.Decompress(raw)
	if err != nil {
		log.Fatalf("decompress: %v", err)
	}
	fmt.Printf("decompressed: %d bytes of markup\n", len(text))

	quick := replay.QuickCheck(text, catalog.TrackedAddonIDs())
	fmt.Printf("stage 1: tracked=%v addon=%q version=%q era=%q\n",
		quick.HasTrackedAddon, quick.AddonID, quick.Version, quick.EraID)

	if !*full {
		if !quick.HasTrackedAddon {
			fmt.Println("not a tracked ladder replay; stage 2 would be skipped")
		}
		return
	}

	a, err := replay.Analyze(text, catalog)
	if err != nil {
		log.Fatalf("stage 2: %v", err)
	}
	fmt.Printf("scenario: id=%q name=%q map=%q era=%q version=%q\n",
		a.Metadata.ScenarioID, a.Metadata.ScenarioName, a.Metadata.MapFile,
		a.Metadata.EraID, a.Metadata.Version)
	for _, ad := range a.Addons {
		fmt.Printf("addon: id=%q version=%q required=%v\n", ad.ID, ad.Version, ad.Required)
	}
	for _, p := range a.Players {
		fmt.Printf("side %d: name=%q faction=%q (%s) leader=%s/%s controller=%s\n",
			p.Side, p.Name, p.FactionID, p.FactionName, p.LeaderID, p.LeaderType, p.Controller)
	}
	fmt.Printf("victory: side=%d name=%q result=%s from=%s confidence=%s\n",
		a.Victory.WinnerSide, a.Victory.WinnerName, a.Victory.ResultType,
		a.Victory.DetectedFrom, a.Victory.Confidence)
}
