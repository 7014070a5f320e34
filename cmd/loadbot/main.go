package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"zombiequiz/bots"
	"zombiequiz/config"
	"zombiequiz/models"
	"zombiequiz/services"
	"zombiequiz/store"

	"github.com/BurntSushi/toml"
)

// Scenario is the TOML description of one load run.
type Scenario struct {
	Mode           string  `toml:"mode"` // "local" or "db"
	RoomCode       string  `toml:"room_code"`
	Agents         int     `toml:"agents"`
	Seed           int64   `toml:"seed"`
	JoinsPerSecond float64 `toml:"joins_per_second"`
	LobbySeconds   int     `toml:"lobby_seconds"`
	MaxRunSeconds  int     `toml:"max_run_seconds"`

	Local LocalScenario `toml:"local"`
}

// LocalScenario shapes the synthetic session used in local mode.
type LocalScenario struct {
	Difficulty string `toml:"difficulty"`
	Questions  int    `toml:"questions"`
	Options    int    `toml:"options"`
}

func main() {
	scenarioPath := flag.String("scenario", "scenario.toml", "path to scenario TOML file")
	flag.Parse()

	var scenario Scenario
	if _, err := toml.DecodeFile(*scenarioPath, &scenario); err != nil {
		log.Fatal("Failed to read scenario: ", err)
	}
	applyDefaults(&scenario)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch scenario.Mode {
	case "local":
		runLocal(ctx, scenario)
	case "db":
		runAgainstDB(ctx, scenario)
	default:
		log.Fatalf("Unknown mode %q (want local or db)", scenario.Mode)
	}
}

func applyDefaults(s *Scenario) {
	if s.Mode == "" {
		s.Mode = "local"
	}
	if s.Agents <= 0 {
		s.Agents = 10
	}
	if s.Seed == 0 {
		s.Seed = time.Now().UnixNano()
	}
	if s.LobbySeconds <= 0 {
		s.LobbySeconds = 10
	}
	if s.MaxRunSeconds <= 0 {
		s.MaxRunSeconds = 600
	}
	if s.Local.Difficulty == "" {
		s.Local.Difficulty = models.DifficultyNormal
	}
	if s.Local.Questions <= 0 {
		s.Local.Questions = 10
	}
	if s.Local.Options <= 0 {
		s.Local.Options = 4
	}
	if s.RoomCode == "" {
		s.RoomCode = "local1"
	}
}

// runLocal simulates the whole round trip in process: memory store and
// feed, N agents, and the attack coordinator consuming the same feed the
// host would.
func runLocal(ctx context.Context, scenario Scenario) {
	feed := store.NewMemoryFeed(1024)
	mem := store.NewMemoryStore(feed, store.RealClock())

	questions := syntheticQuestions(scenario.Local.Questions, scenario.Local.Options)
	session := mem.SeedSession(&models.Session{
		QuizID:        1,
		Pin:           scenario.RoomCode,
		Status:        models.SessionWaiting,
		Difficulty:    scenario.Local.Difficulty,
		QuestionLimit: scenario.Local.Questions,
	}, questions)

	coordinator := services.NewAttackCoordinator(mem, feed, store.RealClock(), logBroadcaster{}, nil, session)
	if err := coordinator.Start(ctx); err != nil {
		log.Fatal("Failed to start attack coordinator: ", err)
	}
	defer coordinator.Stop()

	runHarness(ctx, mem, scenario, func() {
		if err := mem.UpdateSessionStatus(ctx, session.ID, models.SessionActive); err != nil {
			log.Printf("Failed to activate session: %v", err)
		}
	})
}

// runAgainstDB points the fleet at the same postgres/redis pair the
// server uses, taking connection details from the environment.
func runAgainstDB(ctx context.Context, scenario Scenario) {
	cfg := config.Load()
	db, err := config.InitDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to database: ", err)
	}
	redisClient := config.InitRedis(cfg)

	feed := store.NewRedisFeed(redisClient)
	st := store.NewGormStore(db, feed, store.RealClock())
	runHarness(ctx, st, scenario, nil)
}

func runHarness(ctx context.Context, st store.SessionStore, scenario Scenario, activate func()) {
	harness := bots.NewHarness(st, bots.HarnessConfig{
		RoomCode:       scenario.RoomCode,
		Agents:         scenario.Agents,
		Seed:           scenario.Seed,
		JoinsPerSecond: scenario.JoinsPerSecond,
	}, bots.Callbacks{})

	log.Printf("Starting %d agents against room %s (seed %d)", scenario.Agents, scenario.RoomCode, scenario.Seed)
	if err := harness.Start(ctx); err != nil {
		log.Fatal("Failed to start harness: ", err)
	}

	if activate != nil {
		go func() {
			select {
			case <-ctx.Done():
			case <-time.After(time.Duration(scenario.LobbySeconds) * time.Second):
				log.Printf("Lobby window over, activating session %s", scenario.RoomCode)
				activate()
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		harness.Wait()
		close(done)
	}()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	deadline := time.After(time.Duration(scenario.MaxRunSeconds) * time.Second)

	for {
		select {
		case <-ctx.Done():
			log.Printf("Stop signal received, draining agents")
			harness.Stop()
			printCounts(harness)
			return
		case <-deadline:
			log.Printf("Max run time reached, stopping agents")
			harness.Stop()
			printCounts(harness)
			return
		case <-done:
			log.Printf("All agents finished")
			printCounts(harness)
			return
		case <-ticker.C:
			printCounts(harness)
		}
	}
}

func printCounts(h *bots.Harness) {
	counts := h.Counts()
	log.Printf("Agents: joining=%d lobby=%d answering=%d completed=%d eliminated=%d errored=%d",
		counts[bots.StateJoining], counts[bots.StateLobbyIdle], counts[bots.StateAnswering],
		counts[bots.StateCompleted], counts[bots.StateEliminated], counts[bots.StateErrored])
}

func syntheticQuestions(n, options int) []models.Question {
	questions := make([]models.Question, n)
	for i := range questions {
		q := models.Question{
			ID:     uint(i + 1),
			QuizID: 1,
			Text:   fmt.Sprintf("Question %d", i+1),
			Order:  i + 1,
		}
		for j := 0; j < options; j++ {
			q.Options = append(q.Options, models.Option{
				ID:         uint(i*options + j + 1),
				QuestionID: q.ID,
				Text:       fmt.Sprintf("Option %d", j+1),
				IsCorrect:  j == 0,
				Order:      j + 1,
			})
		}
		questions[i] = q
	}
	return questions
}

// logBroadcaster prints what the host display would render.
type logBroadcaster struct{}

func (logBroadcaster) BroadcastToSession(pin, messageType string, payload interface{}) {
	if messageType == "attack_progress" {
		return // too chatty for a terminal
	}
	log.Printf("[%s] %s: %v", pin, messageType, payload)
}
