package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cctl/boiler/internal/cap"
	"github.com/cctl/boiler/internal/config"
	"github.com/cctl/boiler/internal/feed"
	"github.com/cctl/boiler/internal/store"
	"github.com/cctl/boiler/internal/upstream"
)

// defaultTestMessage is the canned transcription used when the operator
// does not supply text.
const defaultTestMessage = "BoilerCAP Message. This is a test of the Boiler CAP feed emulator. " +
	"This test is being performed to verify compatibility with all digital Emergency Alert System platforms. " +
	"If you are hearing this message, the station you are listening to is part of a network equipped with Boiler CAP. " +
	"No action is required. Message is from: CCTL."

func newSendTestCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sendtest",
		Short: "Interactively create a test alert and place it on the feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSendTest()
		},
	}
}

func runSendTest() error {
	logger := newLogger("info")
	cfg := config.Load(configPath, logger)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	rec := promptRecord(bufio.NewScanner(os.Stdin))
	fmt.Printf("Creating alert '%s'\n", rec.ID)

	st := store.New(cfg.AlertsDir, logger)
	if err := st.EnsureRoot(); err != nil {
		return err
	}

	rec.ReceivedAt = time.Now().UTC().Format(upstream.ReceivedAtFormat)
	if err := st.WriteSnapshot(rec); err != nil {
		return err
	}

	events := cap.LoadEventNames(cfg.DictsFile, logger)
	builder := cap.NewBuilder(events, cfg.AlertsURL(), cfg.Audio.StoreLocal, cfg.TrimEncoderPrefix, logger)
	doc, err := builder.Build(rec, "")
	if err != nil {
		return err
	}
	if err := st.WriteDocument(rec.ID, doc); err != nil {
		return err
	}

	if _, err := feed.NewSynthesizer(st, logger).Rebuild(cfg, time.Now().UTC()); err != nil {
		return err
	}

	fmt.Printf("Test alert '%s' is on the feed until %s.\n", rec.ID, rec.EndTime)
	return nil
}

// promptRecord gathers alert details interactively, applying defaults for
// empty answers and re-prompting on malformed ones.
func promptRecord(in *bufio.Scanner) upstream.Record {
	id := "test-" + uuid.NewString()[:8]

	eventCode := promptCode(in, "Event Code (DMO): ", "DMO")
	originator := promptCode(in, "Originator (EAS): ", "EAS")
	minutes := promptMinutes(in)
	fipsCodes := promptFIPS(in)
	text := prompt(in, "Alert Text: ")
	if text == "" {
		text = defaultTestMessage
	}

	start := time.Now().UTC()
	end := start.Add(time.Duration(minutes) * time.Minute)
	const layout = "2006-01-02T15:04:05"

	return upstream.Record{
		ID:             id,
		Hash:           id,
		EventCode:      eventCode,
		Originator:     originator,
		FIPSCodes:      fipsCodes,
		StartTimeEpoch: float64(start.Unix()),
		StartTime:      start.Format(layout),
		EndTimeEpoch:   float64(end.Unix()),
		EndTime:        end.Format(layout),
		Translation:    text,
	}
}

func prompt(in *bufio.Scanner, label string) string {
	fmt.Print(label)
	if !in.Scan() {
		return ""
	}
	return strings.TrimSpace(in.Text())
}

func promptCode(in *bufio.Scanner, label, fallback string) string {
	for {
		v := prompt(in, label)
		if v == "" {
			return fallback
		}
		if len(v) != 3 {
			fmt.Println("Code must be exactly 3 characters long.")
			continue
		}
		return strings.ToUpper(v)
	}
}

func promptMinutes(in *bufio.Scanner) int {
	for {
		v := prompt(in, "Effective time in minutes (30): ")
		if v == "" {
			return 30
		}
		minutes, err := strconv.Atoi(v)
		if err != nil || minutes <= 0 {
			fmt.Println("The value you gave was not a positive integer. Please try again.")
			continue
		}
		return minutes
	}
}

func promptFIPS(in *bufio.Scanner) []string {
	var codes []string
	for {
		v := prompt(in, "FIPS Area (011001): ")
		if v == "" {
			if len(codes) == 0 {
				codes = append(codes, "011001")
			}
			return codes
		}
		if len(v) != 6 {
			fmt.Println("FIPS code must consist of 6 numerical characters.")
			continue
		}
		codes = append(codes, v)
	}
}
