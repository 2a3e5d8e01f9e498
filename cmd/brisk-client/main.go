// cmd/brisk-client/main.go
//
// brisk-client is a command-line participant client for the Brisk collection
// API. It can run a full assessment session with a simulated responder, run
// a single practice task, log cold exposures, and watch the live event feed.
//
// Usage:
//
//	brisk-client run [--server http://localhost:8080] [--token T]
//	brisk-client practice --task pvt [--server ...] [--token T]
//	brisk-client expose [--minutes 3] [--temp 4.5] [--context plunge]
//	brisk-client whoami
//	brisk-client watch
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/polarlab/brisk/internal/config"
	"github.com/polarlab/brisk/internal/feed"
	"github.com/polarlab/brisk/internal/runner"
	"github.com/polarlab/brisk/internal/session"
	"github.com/polarlab/brisk/internal/storage"
	"github.com/polarlab/brisk/internal/task"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		cmdRun(os.Args[2:])
	case "practice":
		cmdPractice(os.Args[2:])
	case "expose":
		cmdExpose(os.Args[2:])
	case "whoami":
		cmdWhoami(os.Args[2:])
	case "watch":
		cmdWatch(os.Args[2:])
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: brisk-client <command> [flags]

Commands:
  run       Start a session and run the full task battery
  practice  Run a single practice task
  expose    Log a cold exposure event
  whoami    Show the authenticated participant
  watch     Stream live collection events

Run 'brisk-client <command> --help' for details on each command.
`)
}

// apiClient is a thin JSON client for the collection API.
type apiClient struct {
	base  string
	token string
	http  *http.Client
}

func newAPIClient(base, token string) *apiClient {
	if token == "" {
		token = os.Getenv("BRISK_TOKEN")
	}
	if token == "" {
		log.Fatal("participant token required (--token or BRISK_TOKEN)")
	}
	return &apiClient{
		base:  strings.TrimRight(base, "/"),
		token: token,
		http:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *apiClient) do(method, path string, body, into any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequest(method, c.base+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(msg))
	}
	if into == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(into)
}

type sessionEnvelope struct {
	Session storage.Session    `json:"session"`
	Next    *session.Bootstrap `json:"next"`
}

type nextEnvelope struct {
	Status string             `json:"status"`
	Next   *session.Bootstrap `json:"next"`
}

func cmdRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	server := fs.String("server", "http://localhost:8080", "API base URL")
	token := fs.String("token", "", "participant token")
	fs.Parse(args)

	api := newAPIClient(*server, *token)

	var env sessionEnvelope
	if err := api.do(http.MethodPost, "/api/sessions", map[string]any{}, &env); err != nil {
		log.Fatalf("Start session: %v", err)
	}
	fmt.Printf("Session %s started, task order: %s\n", env.Session.ID, strings.Join(env.Session.TaskOrder, ", "))

	runBattery(api, env.Session.ID, env.Next)

	var final nextEnvelope
	if err := api.do(http.MethodGet, "/api/sessions/"+env.Session.ID+"/next", nil, &final); err != nil {
		log.Fatalf("Check session: %v", err)
	}
	fmt.Printf("Session %s: %s\n", env.Session.ID, final.Status)
}

func cmdPractice(args []string) {
	fs := flag.NewFlagSet("practice", flag.ExitOnError)
	server := fs.String("server", "http://localhost:8080", "API base URL")
	token := fs.String("token", "", "participant token")
	taskType := fs.String("task", task.TypePVT, "task type to practice")
	fs.Parse(args)

	api := newAPIClient(*server, *token)

	var env sessionEnvelope
	body := map[string]any{"practice": true, "practice_task": *taskType}
	if err := api.do(http.MethodPost, "/api/sessions", body, &env); err != nil {
		log.Fatalf("Start practice session: %v", err)
	}
	fmt.Printf("Practice session %s (%s)\n", env.Session.ID, *taskType)

	runBattery(api, env.Session.ID, env.Next)
	fmt.Println("Practice complete")
}

// runBattery drives the session's tasks one at a time with the simulated
// responder, submitting each result as it finishes.
func runBattery(api *apiClient, sessionID string, next *session.Bootstrap) {
	coord := runner.NewCoordinator(
		task.DefaultRegistry(),
		runner.NewHTTPSubmitter(api.base, api.token),
		nil,
	)
	coord.Timings = loadTimings()
	coord.OnStimulus = respondBot

	ctx := context.Background()
	for next != nil {
		fmt.Printf("Running %s (%ds)...\n", next.TaskType, next.DurationMs/1000)
		r, err := coord.StartTask(ctx, sessionID, next.TaskType, next.Seed)
		if err != nil {
			log.Fatalf("Start task %s: %v", next.TaskType, err)
		}
		for {
			state := r.State()
			if state == runner.StateCompleted || state == runner.StateAborted {
				break
			}
			time.Sleep(200 * time.Millisecond)
		}

		var env nextEnvelope
		if err := api.do(http.MethodGet, "/api/sessions/"+sessionID+"/next", nil, &env); err != nil {
			log.Fatalf("Fetch next task: %v", err)
		}
		next = env.Next
	}
}

// loadTimings maps the policy file's timing section onto the runner's
// schedule. BRISK_CONFIG names the file; without it the defaults apply.
func loadTimings() runner.Timings {
	cfg, err := config.Load(os.Getenv("BRISK_CONFIG"))
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}
	tp := cfg.Timing
	return runner.Timings{
		PVTISIMinMs:       tp.PVTISIMinMs,
		PVTISIMaxMs:       tp.PVTISIMaxMs,
		PVTWindowMs:       tp.PVTWindowMs,
		SARTStimulusMs:    tp.SARTStimulusMs,
		SARTBlankMs:       tp.SARTBlankMs,
		FlankerFixationMs: tp.FlankerFixationMs,
		FlankerWindowMs:   tp.FlankerWindowMs,
	}
}

// respondBot is a plausible simulated participant: it answers correctly
// with human-ish latencies and withholds on no-go stimuli.
func respondBot(r *runner.Runner, st runner.Stimulus, index int) {
	go func() {
		switch {
		case st.Prompt != "":
			time.Sleep(time.Duration(600+rand.Intn(400)) * time.Millisecond)
			r.Respond(runner.Input{Rating: 2 + rand.Intn(3)})
		case st.IsNogo:
			// Withhold.
		case st.Direction != "":
			time.Sleep(time.Duration(350+rand.Intn(200)) * time.Millisecond)
			r.Respond(runner.Input{Direction: st.Direction})
		case st.Answer != "":
			time.Sleep(time.Duration(700+rand.Intn(500)) * time.Millisecond)
			r.Respond(runner.Input{Option: st.Answer})
		default:
			time.Sleep(time.Duration(250+rand.Intn(150)) * time.Millisecond)
			r.Respond(runner.Input{})
		}
	}()
}

func cmdExpose(args []string) {
	fs := flag.NewFlagSet("expose", flag.ExitOnError)
	server := fs.String("server", "http://localhost:8080", "API base URL")
	token := fs.String("token", "", "participant token")
	minutes := fs.Int("minutes", 3, "exposure duration in minutes")
	temp := fs.Float64("temp", 0, "water temperature in celsius (0 = unknown)")
	exposureContext := fs.String("context", "plunge", "exposure context")
	ago := fs.Duration("ago", 0, "how long ago the exposure ended")
	fs.Parse(args)

	api := newAPIClient(*server, *token)

	body := map[string]any{
		"at":               time.Now().Add(-*ago).UnixMilli(),
		"duration_minutes": *minutes,
		"context":          *exposureContext,
	}
	if *temp != 0 {
		body["water_temp_celsius"] = *temp
	}

	var e storage.ExposureEvent
	if err := api.do(http.MethodPost, "/api/exposures", body, &e); err != nil {
		log.Fatalf("Log exposure: %v", err)
	}
	fmt.Printf("Exposure %s logged at %s\n", e.ID, time.UnixMilli(e.At).Format(time.RFC3339))
}

func cmdWhoami(args []string) {
	fs := flag.NewFlagSet("whoami", flag.ExitOnError)
	server := fs.String("server", "http://localhost:8080", "API base URL")
	token := fs.String("token", "", "participant token")
	fs.Parse(args)

	api := newAPIClient(*server, *token)

	var p storage.Participant
	if err := api.do(http.MethodGet, "/api/participants/me", nil, &p); err != nil {
		log.Fatalf("Fetch participant: %v", err)
	}
	fmt.Printf("Participant %s", p.ID)
	if p.Label != "" {
		fmt.Printf(" (%s)", p.Label)
	}
	fmt.Println()
}

func cmdWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	server := fs.String("server", "http://localhost:8080", "API base URL")
	participant := fs.String("participant", "", "filter to one participant id")
	fs.Parse(args)

	u, err := url.Parse(*server)
	if err != nil {
		log.Fatalf("Parse server URL: %v", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/api/events"
	if *participant != "" {
		u.RawQuery = "participant_id=" + url.QueryEscape(*participant)
	}

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("Connect to feed: %v", err)
	}
	defer conn.Close()
	fmt.Printf("Watching %s\n", u)

	for {
		var msg feed.WSResponse
		if err := conn.ReadJSON(&msg); err != nil {
			log.Fatalf("Feed closed: %v", err)
		}
		payload, _ := json.Marshal(msg.Payload)
		fmt.Printf("%s %s\n", msg.Type, payload)
	}
}
