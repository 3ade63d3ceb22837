package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/davoodhazareh-sketch/alaem-shenasi-server/audio"
	"github.com/davoodhazareh-sketch/alaem-shenasi-server/backend"
	"github.com/davoodhazareh-sketch/alaem-shenasi-server/config"
	"github.com/davoodhazareh-sketch/alaem-shenasi-server/engine"
	"github.com/davoodhazareh-sketch/alaem-shenasi-server/live"
	"github.com/davoodhazareh-sketch/alaem-shenasi-server/pcm"
	"github.com/davoodhazareh-sketch/alaem-shenasi-server/report"
	"github.com/davoodhazareh-sketch/alaem-shenasi-server/sound"
)

func main() {
	var (
		diagnose = flag.String("diagnose", "", "symptom description; runs a one-shot diagnosis instead of a voice session")
		images   = flag.String("images", "", "comma separated photo paths attached to the diagnosis")
		history  = flag.Bool("history", false, "list saved reports and exit")
		register = flag.Bool("register", false, "create the account before signing in")
		username = flag.String("user", "", "history backend username")
		password = flag.String("pass", "", "history backend password")
	)
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if cfg.APIKey == "" {
		fmt.Println("Error: GEMINI_API_KEY must be set in .env file")
		fmt.Println("Create a .env file with:")
		fmt.Println("GEMINI_API_KEY=your_api_key")
		fmt.Println("BACKEND_URL=http://localhost:8080  # optional, history backend")
		fmt.Println("VOICE_NAME=Puck                    # optional")
		return
	}

	dialer := live.NewWebsocketDialer(cfg.APIKey)
	capturer := audio.NewPortaudioCapturer(audio.GetDefaultConfig())

	player := sound.NewPortaudioPlayer(sound.GetDefaultConfig())
	if err := player.Initialize(); err != nil {
		log.Fatalf("Failed to initialize audio output: %v", err)
	}
	defer player.Terminate()

	if err := player.Open(); err != nil {
		log.Fatalf("Failed to open audio output: %v", err)
	}
	defer player.Close()
	defer func() {
		if err := player.Flush(); err != nil {
			log.Printf("Error flushing audio output: %v", err)
		}
	}()

	scheduler := sound.NewScheduler(player, pcm.PlaybackRate)
	defer scheduler.Close()

	app := engine.New(
		engine.Config{RecordPath: cfg.RecordPath},
		dialer,
		capturer,
		scheduler,
		live.StreamConfig{
			Model:   cfg.LiveModel,
			Voice:   cfg.Voice,
			Persona: cfg.Persona,
		},
		report.NewClient(cfg.APIKey, cfg.ReportModel),
		backend.NewClient(cfg.BackendURL),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *username != "" {
		if *register {
			if err := app.Register(ctx, *username, *password); err != nil {
				log.Fatalf("Failed to register: %v", err)
			}
			log.Printf("Registered as %s", *username)
		} else {
			if err := app.Login(ctx, *username, *password); err != nil {
				log.Fatalf("Failed to sign in: %v", err)
			}
			log.Printf("Signed in as %s", *username)
		}
	}

	switch {
	case *history:
		listHistory(ctx, app)
	case *diagnose != "":
		runDiagnosis(ctx, app, *diagnose, *images)
	default:
		runVoiceSession(ctx, cancel, app)
	}
}

func runVoiceSession(ctx context.Context, cancel context.CancelFunc, app *engine.Engine) {
	fmt.Println("Starting voice session. Press Ctrl-C to stop.")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	go func() {
		<-sig
		fmt.Println("\nStopping...")
		cancel()
	}()

	if err := app.Run(ctx); err != nil {
		log.Fatalf("Voice session failed: %v", err)
	}
}

func runDiagnosis(ctx context.Context, app *engine.Engine, description, imageList string) {
	images, err := loadImages(imageList)
	if err != nil {
		log.Fatalf("Failed to load images: %v", err)
	}

	diagnosis, err := app.Diagnose(ctx, description, images)
	if err != nil {
		log.Fatalf("Diagnosis failed: %v", err)
	}

	fmt.Printf("Condition: %s\n", diagnosis.Condition)
	fmt.Printf("Severity:  %s\n", diagnosis.Severity)
	fmt.Printf("Summary:   %s\n", diagnosis.Summary)
	for _, rec := range diagnosis.Recommendations {
		fmt.Printf("  - %s\n", rec)
	}
}

func listHistory(ctx context.Context, app *engine.Engine) {
	reports, err := app.History(ctx)
	if err != nil {
		log.Fatalf("Failed to list reports: %v", err)
	}
	if len(reports) == 0 {
		fmt.Println("No saved reports.")
		return
	}
	for _, r := range reports {
		fmt.Printf("%s  %-12s %-8s %s\n", r.CreatedAt.Format("2006-01-02 15:04"), r.Condition, r.Severity, r.Summary)
	}
}

func loadImages(list string) ([]report.Image, error) {
	if list == "" {
		return nil, nil
	}
	var images []report.Image
	for _, path := range strings.Split(list, ",") {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		mimeType := mime.TypeByExtension(filepath.Ext(path))
		if mimeType == "" {
			mimeType = "image/jpeg"
		}
		images = append(images, report.Image{MIMEType: mimeType, Data: data})
	}
	return images, nil
}
