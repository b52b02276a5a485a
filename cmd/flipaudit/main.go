// Command flipaudit independently checks the commit-reveal proof of a coin
// flip, either from seeds given on the command line or by fetching a settled
// wager's audit record from a running server.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"coinflip-backend/internal/fairness"
	"coinflip-backend/internal/models"
)

func main() {
	serverFlag := flag.String("server", "http://localhost:8080", "base URL of the coinflip API")
	wagerFlag := flag.String("wager", "", "settled wager id to fetch and verify")
	seedFlag := flag.String("server-seed", "", "revealed server seed (offline mode)")
	hashFlag := flag.String("hash", "", "server seed commitment (offline mode)")
	clientFlag := flag.String("client-seed", "", "client seed (offline mode)")
	timeoutFlag := flag.Duration("timeout", 10*time.Second, "request timeout")
	flag.Parse()

	var record *models.AuditRecord
	switch {
	case *wagerFlag != "":
		ctx, cancel := context.WithTimeout(context.Background(), *timeoutFlag)
		defer cancel()

		var err error
		record, err = fetchAudit(ctx, http.DefaultClient, *serverFlag, *wagerFlag)
		if err != nil {
			pterm.Error.Printfln("Failed to fetch audit: %v", err)
			os.Exit(1)
		}
	case *seedFlag != "" && *hashFlag != "" && *clientFlag != "":
		record = &models.AuditRecord{
			ServerSeed:     *seedFlag,
			ServerSeedHash: *hashFlag,
			ClientSeed:     *clientFlag,
		}
	default:
		fmt.Fprintf(os.Stderr, "usage: %s -wager <id> [-server URL]\n   or: %s -server-seed S -hash H -client-seed C\n", os.Args[0], os.Args[0])
		os.Exit(2)
	}

	res := check(record)
	if err := pterm.DefaultTable.WithHasHeader().WithData(res.table()).Render(); err != nil {
		pterm.Error.Println(err.Error())
	}

	if !res.ok() {
		pterm.Error.Println("Proof does not verify")
		os.Exit(1)
	}
	pterm.Success.Printfln("Verified: the coin landed %s", res.side)
}

type result struct {
	record  *models.AuditRecord
	hashOK  bool
	outcome float64
	side    models.Side
	offline bool
}

// check recomputes everything from the seeds alone. Values reported by the
// server are only compared, never trusted.
func check(rec *models.AuditRecord) result {
	outcome := fairness.Resolve(rec.ServerSeed, rec.ClientSeed)
	return result{
		record:  rec,
		hashOK:  fairness.Verify(rec.ServerSeedHash, rec.ServerSeed),
		outcome: outcome,
		side:    fairness.SideFromOutcome(outcome),
		offline: rec.WagerID == "",
	}
}

func (r result) ok() bool {
	if !r.hashOK {
		return false
	}
	if r.offline {
		return true
	}
	return r.outcome == r.record.Outcome && r.side == r.record.WinningSide
}

func (r result) table() pterm.TableData {
	data := pterm.TableData{
		{"Check", "Reported", "Recomputed", ""},
		{"Commitment", short(r.record.ServerSeedHash), short(fairness.Hash(r.record.ServerSeed)), mark(r.hashOK)},
	}
	if r.offline {
		return append(data,
			[]string{"Outcome", "-", fmt.Sprintf("%.12f", r.outcome), ""},
			[]string{"Side", "-", string(r.side), ""},
		)
	}
	return append(data,
		[]string{"Outcome", fmt.Sprintf("%.12f", r.record.Outcome), fmt.Sprintf("%.12f", r.outcome), mark(r.outcome == r.record.Outcome)},
		[]string{"Side", string(r.record.WinningSide), string(r.side), mark(r.side == r.record.WinningSide)},
	)
}

func mark(ok bool) string {
	if ok {
		return pterm.LightGreen("ok")
	}
	return pterm.LightRed("MISMATCH")
}

func short(hash string) string {
	if len(hash) <= 16 {
		return hash
	}
	return hash[:16] + "…"
}

func fetchAudit(ctx context.Context, client *http.Client, baseURL, wagerID string) (*models.AuditRecord, error) {
	endpoint := strings.TrimRight(baseURL, "/") + "/wagers/" + url.PathEscape(wagerID) + "/audit"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body struct {
		Audit *models.AuditRecord `json:"audit"`
		Error string              `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode response (%s): %w", resp.Status, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: %s", resp.Status, body.Error)
	}
	if body.Audit == nil {
		return nil, fmt.Errorf("response carried no audit record")
	}
	return body.Audit, nil
}
