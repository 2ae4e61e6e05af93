package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/gofiber/fiber/v2"
	alumni "github.com/goliatone/go-alumni"
	"github.com/goliatone/go-alumni/activitymap"
	"github.com/goliatone/go-alumni/baas"
	"github.com/goliatone/go-alumni/baas/local"
	"github.com/goliatone/go-alumni/config"
	"github.com/goliatone/go-alumni/kafkabus"
	"github.com/goliatone/go-alumni/middleware/csrf"
	"github.com/goliatone/go-alumni/notify"
	"github.com/goliatone/go-alumni/social"
	"github.com/goliatone/go-alumni/social/providers/google"
	"github.com/goliatone/go-alumni/storage/cloudinary"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-router"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx, os.Args[2:])
	case "migrate":
		err = runMigrate(ctx, os.Args[2:])
	case "provision":
		err = runProvision(ctx, os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(1)
	}

	if err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("Usage: alumni-portal <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve      Start the portal")
	fmt.Println("  migrate    Create the portal tables")
	fmt.Println("  provision  Create a staff or alumni account out of band")
}

type app struct {
	cfg      *config.Config
	logger   *glog.BaseLogger
	platform *local.Platform
	closers  []func() error
}

func (a *app) GetLogger(name string) alumni.Logger {
	return a.logger.GetLogger(name)
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.GetLogger("app").Warn("shutdown step failed", "error", err)
		}
	}
}

func bootstrap(configPath string) (*app, error) {
	cfg, err := config.Load(configPath, ".env")
	if err != nil {
		return nil, err
	}

	opts := []glog.Option{
		glog.WithLoggerTypePretty(),
		glog.WithName("alumni"),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(errors.ToSlogAttributes),
	}
	if cfg.Logging.Level == "debug" || cfg.Server.Debug {
		opts = append(opts, glog.WithLevel(glog.Trace))
	}
	lgr := glog.NewLogger(opts...)

	platform, err := local.Open(local.Options{
		DSN:        cfg.Platform.DSN,
		SigningKey: []byte(cfg.Platform.SigningKey),
		TokenTTL:   cfg.Session.TokenExpiration,
		Issuer:     cfg.Platform.Issuer,
		Audience:   cfg.Platform.Audience,
		JWKSURL:    cfg.Platform.JWKSURL,
		BcryptCost: cfg.Platform.BcryptCost,
		HashIDs:    cfg.Platform.HashIDs,
		Debug:      cfg.Platform.Debug,
		Logger:     slogLogger(cfg.Logging.Level),
	})
	if err != nil {
		return nil, err
	}
	for name, model := range alumni.Tables() {
		platform.RegisterTable(name, model)
	}

	a := &app{cfg: cfg, logger: lgr, platform: platform}
	a.closers = append(a.closers, platform.Close)
	return a, nil
}

func slogLogger(level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func runMigrate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	configPath := fs.String("config", "alumni.yaml", "config file")
	_ = fs.Parse(args)

	a, err := bootstrap(*configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.platform.Migrate(ctx, alumni.GetMigrationsFS()); err != nil {
		return err
	}
	color.New(color.FgGreen).Println("    ▶ tables ready")
	return nil
}

func runProvision(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("provision", flag.ExitOnError)
	configPath := fs.String("config", "alumni.yaml", "config file")
	email := fs.String("email", "", "account email")
	password := fs.String("password", os.Getenv("ALUMNI_PROVISION_PASSWORD"), "account password")
	first := fs.String("first-name", "", "first name")
	last := fs.String("last-name", "", "last name")
	role := fs.String("role", string(alumni.RoleAdmin), "role: alumni, registrar, admin or superadmin")
	_ = fs.Parse(args)

	r, ok := alumni.ParseRole(*role)
	if !ok {
		return fmt.Errorf("unknown role %q", *role)
	}

	a, err := bootstrap(*configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.platform.Migrate(ctx, alumni.GetMigrationsFS()); err != nil {
		return err
	}

	profile, err := alumni.Provision(ctx, a.platform.Auth, alumni.NewProfilesRepository(a.platform.Database), alumni.ProvisionInput{
		Email:     *email,
		Password:  *password,
		FirstName: *first,
		LastName:  *last,
		Role:      r,
	})
	if err != nil {
		if fields := alumni.FieldErrorsOf(err); len(fields) > 0 {
			for field, msg := range fields {
				color.New(color.FgYellow).Printf("    %s: %s\n", field, msg)
			}
		}
		return err
	}

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("%s account %s created (%s)\n", profile.Role, profile.Email, profile.ID)
	return nil
}

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "alumni.yaml", "config file")
	_ = fs.Parse(args)

	a, err := bootstrap(*configPath)
	if err != nil {
		return err
	}
	defer a.Close()
	cfg := a.cfg

	busOpts := kafkabus.Options{
		Brokers:       cfg.Kafka.Brokers,
		ActivityTopic: cfg.Kafka.ActivityTopic,
		ChangeTopic:   cfg.Kafka.ChangeTopic,
		GroupID:       cfg.Kafka.GroupID,
		Username:      cfg.Kafka.Username,
		Password:      cfg.Kafka.Password,
		TLS:           cfg.Kafka.TLS,
		InstanceID:    cfg.Kafka.InstanceID,
	}
	if busOpts.GroupID == "" {
		busOpts.GroupID = "alumni-portal-" + busOpts.InstanceID
	}

	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	cyan.Println("    alumni portal")
	green.Print("    ▶ ")
	fmt.Printf("Config: %s\n", *configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:   %s\n", cfg.Server.Addr)

	if err := a.platform.Migrate(ctx, alumni.GetMigrationsFS()); err != nil {
		return err
	}

	var activity alumni.ActivitySink = alumni.ActivitySinkFunc(func(_ context.Context, e alumni.ActivityEvent) error {
		a.GetLogger("activity").Info(string(e.EventType), "profile_id", e.ProfileID, "actor_id", e.Actor.ID)
		return nil
	})
	if cfg.Kafka.Enabled {
		relay := kafkabus.NewChangeRelay(kafkabus.NewWriter(busOpts, busOpts.ChangeTopic), busOpts.InstanceID)
		a.platform.Broker.WithRelay(relay)

		producer := kafkabus.NewActivityProducer(kafkabus.NewWriter(busOpts, busOpts.ActivityTopic),
			activitymap.WithMaskedKeys(cfg.Kafka.MaskedKeys...),
		)
		a.closers = append(a.closers, producer.Close, relay.Close)
		activity = producer

		consumer := kafkabus.NewChangeConsumer(kafkabus.NewReader(busOpts), a.platform.Broker, busOpts.InstanceID, a.GetLogger("kafka"))
		a.closers = append(a.closers, consumer.Close)
		go func() {
			if err := consumer.Run(ctx); err != nil {
				a.GetLogger("kafka").Error("change consumer stopped", "error", err)
			}
		}()
	}

	var mailer alumni.Mailer
	if cfg.SMTP.Host != "" {
		mailer = notify.NewMailer(notify.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		})
	} else {
		mailer = notify.NewOutbox(a.GetLogger("mail"))
	}

	profiles := alumni.NewProfilesRepository(a.platform.Database)
	resolver := alumni.NewProfileResolver(profiles, alumni.WithResolverLogger(a.GetLogger("resolver")))

	machine := alumni.NewProfileStateMachine(profiles,
		alumni.WithStateMachineActivitySink(activity),
		alumni.WithStateMachineLogger(a.GetLogger("approval")),
		alumni.WithStateMachineAfterHook(alumni.StatusNotificationHook(mailer, cfg.Server.PortalURL)),
	)

	roster := alumni.NewMasterList(a.platform.Database,
		alumni.WithMasterListActivitySink(activity),
		alumni.WithMasterListLogger(a.GetLogger("roster")),
	)

	approvals := alumni.NewApprovalWorkflow(profiles,
		alumni.WithApprovalStateMachine(machine),
		alumni.WithApprovalRealtime(a.platform.Broker),
		alumni.WithApprovalRoster(roster),
		alumni.WithApprovalAdmin(a.platform.Auth),
		alumni.WithApprovalActivitySink(activity),
		alumni.WithApprovalLogger(a.GetLogger("approval")),
	)

	registration := alumni.NewRegistrationWorkflow(profiles,
		alumni.WithRegistrationAdmin(a.platform.Auth),
		alumni.WithRegistrationActivitySink(activity),
		alumni.WithRegistrationLogger(a.GetLogger("registration")),
		alumni.WithPhoneRegion(cfg.Registration.PhoneRegion),
	)

	loginOpts := []alumni.LoginFlowOption{
		alumni.WithLoginActivitySink(activity),
		alumni.WithLoginLogger(a.GetLogger("login")),
	}
	if cfg.GetRequireSecondFactor() {
		loginOpts = append(loginOpts, alumni.WithLoginSecondFactor(alumni.NewSecondFactor(a.platform.Database, mailer,
			alumni.WithChallengeTTL(cfg.GetSecondFactorTTL()),
			alumni.WithChallengeMaxAttempts(cfg.GetSecondFactorMaxAttempts()),
			alumni.WithChallengeLogger(a.GetLogger("mfa")),
		)))
	}
	login := alumni.NewLoginFlow(resolver, loginOpts...)

	profileOpts := []alumni.ProfileServiceOption{
		alumni.WithProfileServiceLogger(a.GetLogger("profile")),
		alumni.WithProfileRegion(cfg.Registration.PhoneRegion),
	}
	if cfg.Cloudinary.URL != "" {
		uploader, err := cloudinary.New(cfg.Cloudinary.URL, cfg.Cloudinary.Folder)
		if err != nil {
			return err
		}
		profileOpts = append(profileOpts, alumni.WithAvatarUploader(uploader))
	}
	profileService := alumni.NewProfileService(profiles, profileOpts...)

	storage := alumni.NewMemoryStorage(cfg.GetTokenExpiration())
	go sweep(ctx, storage, time.Minute)

	clients := alumni.ClientFactoryFunc(func(kv baas.KeyValue) baas.AuthClient {
		return a.platform.NewClient(kv)
	})

	httpAuth := alumni.NewHTTPAuthenticator(cfg, clients, resolver, storage)
	httpAuth.Logger = a.GetLogger("http")

	var app *fiber.App
	srv := router.NewFiberAdapter(func(*fiber.App) *fiber.App {
		app = fiber.New(fiber.Config{
			AppName:               "alumni-portal",
			DisableStartupMessage: true,
			BodyLimit:             12 * 1024 * 1024,
		})
		return app
	})

	controllerOpts := []alumni.PortalControllerOption{
		alumni.WithAuthenticator(httpAuth),
		alumni.WithWorkflows(login, registration, approvals, profileService, roster),
		alumni.WithControllerLogger(a.GetLogger("controller")),
		alumni.WithControllerDebug(cfg.Server.Debug),
	}
	if cfg.Server.CSRF {
		controllerOpts = append(controllerOpts, alumni.WithCSRF(csrf.New(csrf.Config{
			Expiration: cfg.GetTokenExpiration(),
		})))
	}
	// the portal controller streams SSE and parses multipart uploads on the raw fiber app
	alumni.RegisterPortalRoutes(app, controllerOpts...)
	if cfg.Server.CSRF {
		csrf.RegisterRoutes(srv.Router())
	}
	if cfg.Social.Google.Enabled() {
		signIn := social.NewSignIn(
			social.NewStateManager(cfg.Platform.SigningKey, cfg.Social.StateTTL),
			login,
			social.WithProvider(google.New(google.Config{
				ClientID:     cfg.Social.Google.ClientID,
				ClientSecret: cfg.Social.Google.ClientSecret,
				CallbackURL:  cfg.Social.Google.CallbackURL,
				HostedDomain: cfg.Social.Google.HostedDomain,
			})),
			social.WithSignup(cfg.Social.AllowSignup),
			social.WithPromptParam(cfg.Social.Prompt),
			social.WithActivitySink(activity),
			social.WithLogger(a.GetLogger("social")),
		)
		social.RegisterRoutes(srv.Router(), signIn)
		green.Print("    ▶ ")
		fmt.Printf("Social: %v\n", signIn.Providers())
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(cfg.Server.Addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		a.GetLogger("app").Info("shutting down")
		return app.ShutdownWithTimeout(10 * time.Second)
	}
}

func sweep(ctx context.Context, storage *alumni.MemoryStorage, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			storage.Sweep()
		}
	}
}
