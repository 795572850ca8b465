package main

import (
	"context"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	openai "github.com/sashabaranov/go-openai"

	"medivoice/models"
	"medivoice/services"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8081" // Default port if not set
	}
	err := godotenv.Load()
	if err != nil {
		log.Println("Warning: cannot retrieve env file, using environment variables")
	}

	bookingURL := os.Getenv("BOOKING_API_URL")
	if bookingURL == "" {
		log.Fatal("BOOKING_API_URL must be set")
	}

	registry := buildProviderRegistry()
	store := services.NewStore(
		envDuration("IDLE_TIMEOUT_SECONDS", 120*time.Second),
		envDuration("SWEEP_INTERVAL_SECONDS", 15*time.Second),
	)
	dialogue := buildDialogueEngine()
	booking := services.NewBookingClient(bookingURL)
	telephony := buildTelephonyAdapter()

	controller := services.NewController(store, registry, telephony, dialogue, booking, services.DefaultControllerConfig())

	// Initialize Firebase
	firestoreClient, err := services.InitFirestore()
	if err != nil {
		log.Printf("Warning: Failed to initialize Firestore, calls will not be archived: %v", err)
	} else {
		defer firestoreClient.Close()
		controller.SetArchiver(firestoreClient)
		log.Println("Firestore initialized successfully")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer telephony.Close()

	// Background sweep evicting idle sessions
	go store.Run(ctx)

	// ARI event stream, when an Asterisk box is configured
	if ari, ok := telephony.(*services.ARIAdapter); ok {
		go ari.Run(ctx)
	}

	srv := &server{
		controller: controller,
		registry:   registry,
	}
	if tw, ok := telephony.(*services.TwilioAdapter); ok {
		srv.twilio = tw
	}

	app := gin.Default()
	app.GET("/healthz", srv.healthz)
	app.POST("/asterisk/incoming", srv.incomingCall)
	app.POST("/asterisk/process", srv.processAudio)
	app.POST("/asterisk/outbound", srv.outboundCall)
	app.GET("/asterisk/active-calls", srv.activeCalls)
	app.POST("/asterisk/end-call", srv.endCall)
	app.GET("/voice-provider/config", srv.getProviderConfig)
	app.POST("/voice-provider/config", srv.setProviderConfig)
	app.POST("/voice-provider/test", srv.testProvider)
	if srv.twilio != nil {
		app.POST("/twilio/voice", srv.twilioVoiceWebhook)
		app.POST("/twilio/status", srv.twilioStatusWebhook)
	}
	app.Run(":" + port)
}

// buildProviderRegistry registers every provider variant that has
// credentials configured. The browser variant is always available.
func buildProviderRegistry() *services.ProviderRegistry {
	defaults := models.ProviderSettings{
		Provider:     os.Getenv("VOICE_PROVIDER"),
		Language:     os.Getenv("DEFAULT_LANGUAGE"),
		SpeakingRate: envFloat("SPEAKING_RATE", 1.0),
	}
	if defaults.Language == "" {
		defaults.Language = "en"
	}

	registered := []string{"browser"}
	registry := services.NewProviderRegistry(defaults)
	registry.Register(services.NewBrowserProvider())

	if key := os.Getenv("GOOGLE_SPEECH_API_KEY"); key != "" {
		registry.Register(services.NewGoogleProvider(key, os.Getenv("GOOGLE_SPEECH_API_URL")))
		registered = append(registered, "google")
		if defaults.Provider == "" {
			defaults.Provider = "google"
		}
	}
	if key := os.Getenv("AI4BHARAT_API_KEY"); key != "" {
		registry.Register(services.NewAI4BharatProvider(key, os.Getenv("AI4BHARAT_API_URL")))
		registered = append(registered, "ai4bharat")
	}
	if defaults.Provider == "" {
		defaults.Provider = "browser"
	}
	if err := registry.SetDefaults(defaults); err != nil {
		log.Fatalf("VOICE_PROVIDER %q is not configured (available: %v)", defaults.Provider, registered)
	}
	log.Printf("voice providers registered: %v, default %s", registered, defaults.Provider)
	return registry
}

func buildDialogueEngine() *services.DialogueEngine {
	engine := services.NewDialogueEngine()
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		engine = engine.WithLLM(openai.NewClient(key), os.Getenv("OPENAI_MODEL"))
		log.Println("LLM-assisted extraction enabled")
	}
	return engine
}

// buildTelephonyAdapter selects the PBX control-channel implementation:
// a Twilio trunk when account credentials are present, the Asterisk ARI
// otherwise.
func buildTelephonyAdapter() services.TelephonyAdapter {
	recordings := os.Getenv("RECORDINGS_DIR")
	if recordings == "" {
		recordings = "/var/lib/medivoice/recordings"
	}
	if err := os.MkdirAll(recordings, 0o755); err != nil {
		log.Printf("Warning: cannot create recordings dir %s: %v", recordings, err)
	}

	if sid := os.Getenv("TWILIO_ACCOUNT_SID"); sid != "" {
		return services.NewTwilioAdapter(services.TwilioConfig{
			AccountSID:    sid,
			AuthToken:     os.Getenv("TWILIO_AUTH_TOKEN"),
			FromNumber:    os.Getenv("TWILIO_FROM_NUMBER"),
			AudioBaseURL:  os.Getenv("AUDIO_BASE_URL"),
			RecordingsDir: recordings,
		})
	}

	ariURL := os.Getenv("ARI_URL")
	if ariURL == "" {
		ariURL = "http://localhost:8088"
	}
	app := os.Getenv("ARI_APP")
	if app == "" {
		app = "medivoice"
	}
	return services.NewARIAdapter(services.ARIConfig{
		BaseURL:       ariURL,
		Username:      os.Getenv("ARI_USERNAME"),
		Password:      os.Getenv("ARI_PASSWORD"),
		App:           app,
		Endpoint:      os.Getenv("ARI_ENDPOINT"),
		RecordingsDir: recordings,
	})
}

func envDuration(name string, fallback time.Duration) time.Duration {
	if v := os.Getenv(name); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
		log.Printf("Warning: invalid %s=%q, using default", name, v)
	}
	return fallback
}

func envFloat(name string, fallback float64) float64 {
	if v := os.Getenv(name); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			return f
		}
		log.Printf("Warning: invalid %s=%q, using default", name, v)
	}
	return fallback
}
