// backfill seeds the psky-relay mirror with profile and room records
// read directly from a PDS over standard XRPC. A mirror started
// mid-stream drops messages for rooms it has never seen; backfilling
// the room records from their owners' repos closes that gap.
//
// Usage:
//
//	backfill -pds https://psky.social \
//	         -dids did:plc:abc123,did:plc:def456 [-dry-run]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/psky-chat/psky-relay/internal/config"
	"github.com/psky-chat/psky-relay/internal/database"
	"github.com/psky-chat/psky-relay/internal/lexicon"
)

func main() {
	pds := flag.String("pds", "", "Source PDS URL (e.g., https://psky.social)")
	cfgPath := flag.String("config", "relay.json", "Relay configuration file")
	didList := flag.String("dids", "", "Comma-separated DIDs whose repos to backfill")
	maxRecords := flag.Int("max-records", 0, "Limit records per DID per collection (0 = all)")
	dryRun := flag.Bool("dry-run", false, "List record counts without writing to the mirror")
	flag.Parse()

	if *pds == "" || *didList == "" {
		log.Fatal("Required flags: -pds, -dids")
	}
	dids := strings.Split(*didList, ",")

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()
	db, err := database.Open(ctx, cfg.ConnString())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	b := &Backfiller{
		pds:        strings.TrimRight(*pds, "/"),
		mirror:     database.NewStore(db.Pool),
		maxRecords: *maxRecords,
		dryRun:     *dryRun,
		client:     &http.Client{Timeout: 30 * time.Second},
	}

	if err := b.Run(ctx, dids); err != nil {
		log.Fatalf("Backfill failed: %v", err)
	}
}

// Backfiller copies profile and room records from a PDS into the mirror.
type Backfiller struct {
	pds        string
	mirror     *database.Store
	maxRecords int
	dryRun     bool
	client     *http.Client
	stats      Stats
}

// Stats tracks backfill progress.
type Stats struct {
	UsersUpserted int
	RoomsUpserted int
	Skipped       int
	Errors        int
}

// Run backfills each DID in turn and prints a summary.
func (b *Backfiller) Run(ctx context.Context, dids []string) error {
	log.Printf("Backfill: %s -> mirror (%d repos, dry-run: %v)", b.pds, len(dids), b.dryRun)

	for i, did := range dids {
		did = strings.TrimSpace(did)
		if did == "" {
			continue
		}
		log.Printf("[%d/%d] Processing %s ...", i+1, len(dids), did)

		if err := b.backfillProfile(ctx, did); err != nil {
			log.Printf("  Error backfilling profile: %v", err)
			b.stats.Errors++
			continue
		}
		if err := b.backfillRooms(ctx, did); err != nil {
			log.Printf("  Error backfilling rooms: %v", err)
			b.stats.Errors++
		}
	}

	fmt.Println()
	fmt.Println("=== Backfill Summary ===")
	fmt.Printf("Users upserted: %d\n", b.stats.UsersUpserted)
	fmt.Printf("Rooms upserted: %d\n", b.stats.RoomsUpserted)
	fmt.Printf("Skipped:        %d\n", b.stats.Skipped)
	fmt.Printf("Errors:         %d\n", b.stats.Errors)

	return nil
}

// backfillProfile imports the DID's actor profile, or ensures a stub
// user when the repo has none.
func (b *Backfiller) backfillProfile(ctx context.Context, did string) error {
	records, err := b.listRecords(did, lexicon.NSIDProfile)
	if err != nil {
		return err
	}

	if b.dryRun {
		log.Printf("  %s: %d records", lexicon.NSIDProfile, len(records))
		return nil
	}

	if len(records) == 0 {
		if _, err := b.mirror.EnsureUser(ctx, did); err != nil {
			return err
		}
		b.stats.UsersUpserted++
		return nil
	}

	var profile lexicon.Profile
	if err := json.Unmarshal(records[0].Value, &profile); err != nil {
		return fmt.Errorf("decode profile: %w", err)
	}
	if _, err := b.mirror.UpsertUser(ctx, did, &profile); err != nil {
		return err
	}
	b.stats.UsersUpserted++
	return nil
}

// backfillRooms imports the DID's chat rooms.
func (b *Backfiller) backfillRooms(ctx context.Context, did string) error {
	records, err := b.listRecords(did, lexicon.NSIDRoom)
	if err != nil {
		return err
	}

	if b.dryRun {
		log.Printf("  %s: %d records", lexicon.NSIDRoom, len(records))
		return nil
	}

	for _, rec := range records {
		var room lexicon.Room
		if err := json.Unmarshal(rec.Value, &room); err != nil {
			log.Printf("  Warning: undecodable room %s: %v", rec.URI, err)
			b.stats.Skipped++
			continue
		}

		err := b.mirror.InsertRoom(ctx, &database.Room{
			URI:       rec.URI,
			CID:       rec.CID,
			OwnerDID:  did,
			Name:      room.Name,
			Topic:     room.Topic,
			Languages: room.Languages,
			Tags:      room.Tags,
			Allowlist: room.Allowlist,
			Denylist:  room.Denylist,
		})
		if err != nil {
			log.Printf("  Warning: insert room %s: %v", rec.URI, err)
			b.stats.Skipped++
			continue
		}
		b.stats.RoomsUpserted++
	}
	return nil
}

// Record is a record entry from com.atproto.repo.listRecords.
type Record struct {
	URI   string          `json:"uri"`
	CID   string          `json:"cid"`
	Value json.RawMessage `json:"value"`
}

// listRecords pages through all records for a repo+collection.
func (b *Backfiller) listRecords(did, collection string) ([]Record, error) {
	var all []Record
	cursor := ""

	for {
		u := fmt.Sprintf("%s/xrpc/com.atproto.repo.listRecords?repo=%s&collection=%s&limit=100",
			b.pds, url.QueryEscape(did), url.QueryEscape(collection))
		if cursor != "" {
			u += "&cursor=" + url.QueryEscape(cursor)
		}

		resp, err := b.client.Get(u)
		if err != nil {
			return nil, err
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, err
		}

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("listRecords: %s - %s", resp.Status, string(body))
		}

		var result struct {
			Records []Record `json:"records"`
			Cursor  string   `json:"cursor"`
		}
		if err := json.Unmarshal(body, &result); err != nil {
			return nil, err
		}

		all = append(all, result.Records...)

		if b.maxRecords > 0 && len(all) >= b.maxRecords {
			all = all[:b.maxRecords]
			break
		}

		cursor = result.Cursor
		if cursor == "" || len(result.Records) == 0 {
			break
		}
	}

	return all, nil
}
