package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/convoflowhq/convoflow/internal/bootstrap"
	"github.com/convoflowhq/convoflow/internal/config"
	"github.com/convoflowhq/convoflow/internal/model"
	"github.com/convoflowhq/convoflow/internal/store/lite"
	"github.com/convoflowhq/convoflow/internal/store/pg"
)

func onboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Interactively seed a first client, binding and workflow",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnboard()
		},
	}
}

func runOnboard() error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var (
		businessName string
		industry     string
		description  string
		platform     string
		accountID    string
		credential   string
		workflowKey  string
		workflowName string
		useCase      string
		confirmFirst bool
		question     string
	)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Business name").
				Value(&businessName).
				Validate(required("business name")),
			huh.NewInput().
				Title("Industry").
				Value(&industry),
			huh.NewInput().
				Title("Short business description").
				Value(&description),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Platform").
				Options(
					huh.NewOption("Instagram", string(model.PlatformInstagram)),
					huh.NewOption("Facebook", string(model.PlatformFacebook)),
					huh.NewOption("WhatsApp", string(model.PlatformWhatsapp)),
					huh.NewOption("Telegram", string(model.PlatformTelegram)),
				).
				Value(&platform),
			huh.NewInput().
				Title("Platform account id").
				Description("The page / business account / bot account this client owns").
				Value(&accountID).
				Validate(required("account id")),
			huh.NewInput().
				Title("Credential value").
				Description("Access token, or phoneNumberID:token for WhatsApp").
				EchoMode(huh.EchoModePassword).
				Value(&credential).
				Validate(required("credential")),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("First workflow").
				Options(
					huh.NewOption("Concierge (triage and reply)", model.WorkflowConcierge),
					huh.NewOption("Intake (capture and submit data)", model.WorkflowIntake),
					huh.NewOption("Booking (availability and reservations)", model.WorkflowBooking),
				).
				Value(&workflowKey),
			huh.NewInput().
				Title("Workflow display name").
				Value(&workflowName),
			huh.NewInput().
				Title("Use case (one sentence, used for routing)").
				Value(&useCase),
			huh.NewConfirm().
				Title("Require human confirmation before automating a conversation?").
				Value(&confirmFirst),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}

	if confirmFirst {
		qForm := huh.NewForm(huh.NewGroup(
			huh.NewInput().
				Title("Confirmation question to ask customers").
				Value(&question).
				Validate(required("confirmation question")),
		))
		if err := qForm.Run(); err != nil {
			return err
		}
	}
	if workflowName == "" {
		workflowName = workflowKey
	}

	p := model.Platform(platform)
	in := bootstrap.SeedInput{
		BusinessName:         businessName,
		Industry:             industry,
		BusinessDescription:  description,
		Platform:             p,
		AccountID:            accountID,
		CredentialType:       model.RequiredCredential(p, model.ChannelDirectMessage),
		CredentialValue:      credential,
		RequiresConfirmation: confirmFirst,
		ConfirmationQuestion: question,
		WorkflowKey:          workflowKey,
		WorkflowName:         workflowName,
		UseCase:              useCase,
	}

	var (
		db      *sql.DB
		dialect bootstrap.Dialect
	)
	if cfg.IsManagedMode() {
		db, err = pg.OpenDB(cfg.Database.PostgresDSN)
		dialect = bootstrap.Postgres
	} else {
		db, err = lite.Open(cfg.SQLiteFile())
		dialect = bootstrap.SQLite
	}
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	res, err := bootstrap.Seed(ctx, db, dialect, in)
	if err != nil {
		slog.Error("onboarding failed", "error", err)
		os.Exit(1)
	}

	fmt.Printf("✅ %s onboarded\n", businessName)
	fmt.Printf("   client:   %s\n", res.ClientID)
	fmt.Printf("   binding:  %s (%s / %s)\n", res.BindingID, platform, accountID)
	fmt.Printf("   workflow: %s (%s)\n", res.WorkflowID, workflowKey)
	return nil
}

func required(field string) func(string) error {
	return func(s string) error {
		if s == "" {
			return fmt.Errorf("%s is required", field)
		}
		return nil
	}
}
