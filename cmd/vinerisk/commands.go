package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/lox/vinerisk/internal/api"
	"github.com/lox/vinerisk/internal/config"
	"github.com/lox/vinerisk/internal/decision"
	"github.com/lox/vinerisk/internal/ingest"
	"github.com/lox/vinerisk/internal/models"
	"github.com/lox/vinerisk/internal/protection"
)

type RefreshCmd struct {
	PastDays   int `help:"Days of history to request (max 90)." default:"90"`
	FutureDays int `help:"Days of forecast to request." default:"7"`
}

func (c *RefreshCmd) Run(ctx context.Context, cli *CLI) error {
	a, err := cli.open()
	if err != nil {
		return err
	}
	defer a.Close()

	a.refresher.SetWindow(c.PastDays, c.FutureDays)
	stats, err := a.refresher.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("refresh failed, cached history kept (%d days): %w", a.history.Len(), err)
	}
	fmt.Printf("added %d, updated %d, skipped %d, pruned %d; %d days cached\n",
		stats.Added, stats.Updated, stats.Skipped, stats.Pruned, a.history.Len())
	return nil
}

type AnalyzeCmd struct {
	Parcel  string `arg:"" optional:"" help:"Parcel name (all parcels when omitted)."`
	Date    string `help:"Analysis date (YYYY-MM-DD, default today)."`
	NoFetch bool   `help:"Use the cached weather history only."`
	JSON    bool   `name:"json" help:"Print the full analysis as JSON."`
}

func (c *AnalyzeCmd) Run(ctx context.Context, cli *CLI) error {
	a, err := cli.open()
	if err != nil {
		return err
	}
	defer a.Close()

	asOf, err := a.parseDay(c.Date)
	if err != nil {
		return err
	}
	if !c.NoFetch {
		// A failed fetch is logged; the analysis runs on the cached history.
		_, _ = a.refresher.Refresh(ctx)
	}

	parcels, err := a.selectParcels(c.Parcel)
	if err != nil {
		return err
	}

	analyses := make([]decision.Analysis, 0, len(parcels))
	for _, p := range parcels {
		analyses = append(analyses, a.engine.Analyze(p, asOf))
	}

	if c.JSON {
		return printJSON(os.Stdout, analyses)
	}
	for i, an := range analyses {
		if i > 0 {
			fmt.Println()
		}
		printAnalysis(os.Stdout, an)
	}
	return nil
}

func (a *app) selectParcels(name string) ([]models.Parcel, error) {
	if name == "" {
		return a.store.ListParcels()
	}
	p, err := a.store.GetParcel(name)
	if err != nil {
		return nil, err
	}
	return []models.Parcel{*p}, nil
}

func printAnalysis(w io.Writer, a decision.Analysis) {
	v := a.Verdict
	fmt.Fprintf(w, "%s, %s (stage %s)\n", a.Parcel, a.Date, a.Stage)
	fmt.Fprintf(w, "  decision:   %s, %s (score %.1f)\n", strings.ToUpper(string(v.Urgency)), v.Action, v.Score)
	fmt.Fprintf(w, "  downy:      %.1f/10 %s\n", a.Downy.Score, a.Downy.Level)
	if a.IPI != nil {
		fmt.Fprintf(w, "  ipi:        %d %s\n", a.IPI.Value, a.IPI.Level)
	}
	fmt.Fprintf(w, "  powdery:    %.1f/10 %s\n", a.Powdery.Score, a.Powdery.Level)
	fmt.Fprintf(w, "  protection: %.1f/10 (%s)\n", a.Protection.Score, a.Protection.Factor)
	if a.Treatment != nil {
		fmt.Fprintf(w, "  treated:    %s with %s at %.2f kg/ha\n", a.Treatment.Date, a.Treatment.Product, a.Treatment.DoseKgHa)
	}
	fmt.Fprintf(w, "  gdd:        %d since %s, estimated %s\n", a.Phenology.Cumulative, models.DateKey(a.Phenology.Start), a.Phenology.EstimatedStage)
	fmt.Fprintf(w, "  next stage: %s\n", a.Prediction)
	fmt.Fprintf(w, "  water:      %s\n", a.Water.Label())
	fmt.Fprintf(w, "  forecast:   %.1f mm over %d days\n", a.Forecast.RainMM, len(a.Forecast.Dates))
	for _, alert := range v.Alerts {
		fmt.Fprintf(w, "  ! %s\n", alert)
	}
	for _, d := range a.Diagnostics {
		fmt.Fprintf(w, "  ? %s\n", d)
	}
}

type StageCmd struct {
	Parcel string `arg:"" help:"Parcel name."`
	Stage  string `arg:"" help:"New stage (dormant, bud_break, shoots_10cm, pre_bloom, bloom, fruit_set, bunch_closure, veraison, ripening)."`
	Biofix string `help:"Bud-break date used as GDD biofix (YYYY-MM-DD)."`
}

func (c *StageCmd) Run(cli *CLI) error {
	a, err := cli.open()
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := a.store.GetParcel(c.Parcel)
	if err != nil {
		return err
	}
	var biofix *time.Time
	if c.Biofix != "" {
		d, err := a.parseDay(c.Biofix)
		if err != nil {
			return err
		}
		biofix = &d
	}
	if err := p.SetStage(c.Stage, biofix); err != nil {
		return err
	}
	if err := a.store.SaveParcelStage(*p); err != nil {
		return err
	}
	a.logger.Info("stage updated", "parcel", p.Name, "stage", p.Stage, "biofix", p.Biofix.Valid)
	return nil
}

type TreatCmd struct {
	Parcel  string  `arg:"" help:"Parcel name."`
	Product string  `arg:"" help:"Product ID or name."`
	Date    string  `help:"Application date (YYYY-MM-DD, default today)."`
	Dose    float64 `help:"Applied dose in kg/ha (default: the product's reference dose)."`
}

func (c *TreatCmd) Run(cli *CLI) error {
	a, err := cli.open()
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.store.GetParcel(c.Parcel); err != nil {
		return err
	}
	day, err := a.parseDay(c.Date)
	if err != nil {
		return err
	}
	product, known := a.catalog.Resolve(c.Product)
	if !known {
		a.logger.Warn("unknown product, using default characteristics",
			"product", c.Product,
			"persistence_days", product.PersistenceDays,
			"leaching_threshold_mm", product.LeachingThresholdMM,
		)
	}
	dose := c.Dose
	if dose <= 0 {
		dose = product.ReferenceDoseKgHa
	}

	id, err := a.store.InsertTreatment(models.Treatment{
		Parcel:   c.Parcel,
		Date:     day,
		Product:  product,
		DoseKgHa: dose,
	})
	if err != nil {
		return err
	}
	a.logger.Info("treatment logged", "id", id, "parcel", c.Parcel, "product", product.Name, "date", models.DateKey(day), "dose", dose)
	return nil
}

type ProductsCmd struct{}

func (c *ProductsCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tCLASS\tPERSISTENCE\tLEACHING\tREF DOSE")
	for _, p := range cfg.Catalog().Products() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.0f d\t%.0f mm\t%.2f kg/ha\n",
			p.ID, p.Name, p.Class, p.PersistenceDays, p.LeachingThresholdMM, p.ReferenceDoseKgHa)
	}
	return tw.Flush()
}

type IFTCmd struct {
	From   string `help:"Period start (YYYY-MM-DD, default 1 January)."`
	To     string `help:"Period end (YYYY-MM-DD, default today)."`
	Parcel string `help:"Restrict to one parcel."`
	JSON   bool   `name:"json" help:"Print the report as JSON."`
}

func (c *IFTCmd) Run(cli *CLI) error {
	a, err := cli.open()
	if err != nil {
		return err
	}
	defer a.Close()

	to, err := a.parseDay(c.To)
	if err != nil {
		return err
	}
	from := time.Date(to.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	if c.From != "" {
		if from, err = a.parseDay(c.From); err != nil {
			return err
		}
	}
	if from.After(to) {
		return errors.New("--from is after --to")
	}

	treatments, err := a.store.GetTreatments(from, to)
	if err != nil {
		return err
	}
	if c.Parcel != "" {
		filtered := treatments[:0]
		for _, t := range treatments {
			if t.Parcel == c.Parcel {
				filtered = append(filtered, t)
			}
		}
		treatments = filtered
	}

	report := protection.FrequencyIndex(treatments, from, to)
	if c.JSON {
		return printJSON(os.Stdout, report)
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tPARCEL\tPRODUCT\tINDEX")
	for _, e := range report.Entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\n", e.Date, e.Parcel, e.Product, e.Index)
	}
	fmt.Fprintf(tw, "\t\ttotal (%d)\t%.2f\n", report.Count, report.Total)
	return tw.Flush()
}

type HistoryCmd struct {
	Parcel string `arg:"" help:"Parcel name."`
	Days   int    `help:"How many days back to show." default:"30"`
}

func (c *HistoryCmd) Run(cli *CLI) error {
	a, err := cli.open()
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.store.GetParcel(c.Parcel); err != nil {
		return err
	}
	since := a.store.Today().AddDate(0, 0, -c.Days)
	records, err := a.store.GetAnalyses(c.Parcel, since, time.Time{})
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tRISK\tPROT\tSCORE\tURGENCY\tACTION\tPOWDERY\tRESERVE\tGDD")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%.1f\t%.1f\t%.1f\t%s\t%s\t%s\t%.0f%%\t%d\n",
			models.DateKey(r.Date), r.Risk, r.Protection, r.Score, r.Urgency, r.Action, r.PowderyLevel, r.ReservePct, r.GDD)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	last, err := a.store.GetLatestTreatment(c.Parcel)
	if err != nil {
		return err
	}
	if last != nil {
		fmt.Printf("\nLast treatment: %s on %s (%.2f kg/ha)\n", last.Product.Name, models.DateKey(last.Date), last.DoseKgHa)
	} else {
		fmt.Println("\nNo treatments recorded.")
	}
	return nil
}

type RunsCmd struct {
	Limit   int   `help:"How many runs to list." default:"10"`
	Payload int64 `help:"Print the raw payload with this ID instead of listing runs."`
}

func (c *RunsCmd) Run(cli *CLI) error {
	a, err := cli.open()
	if err != nil {
		return err
	}
	defer a.Close()

	if c.Payload > 0 {
		raw, err := a.store.GetRawPayload(c.Payload)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("no raw payload with id %d", c.Payload)
		}
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(append(raw, '\n'))
		return err
	}

	runs, err := a.store.GetRecentIngestRuns(c.Limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tSTATUS\tPARSED\tSTORED\tOK\tERROR")
	for _, r := range runs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%t\t%s\n",
			r.ID, r.StartedAt.Local().Format("2006-01-02 15:04"), nullInt(r.HTTPStatus),
			nullInt(r.RecordsParsed), nullInt(r.RecordsStored), r.Success, r.ErrorMessage.String)
	}
	return tw.Flush()
}

func nullInt(v sql.NullInt64) string {
	if !v.Valid {
		return "-"
	}
	return strconv.FormatInt(v.Int64, 10)
}

type ServeCmd struct {
	Port     string        `help:"HTTP port." default:"8080" env:"PORT"`
	Interval time.Duration `help:"Weather refresh interval." default:"3h" env:"VINERISK_REFRESH_INTERVAL"`
	NoPoll   bool          `help:"Disable the refresh scheduler (serve cached data only)."`
}

func (c *ServeCmd) Run(ctx context.Context, cli *CLI) error {
	a, err := cli.open()
	if err != nil {
		return err
	}
	defer a.Close()

	if !c.NoPoll {
		scheduler := ingest.NewScheduler(a.refresher, c.Interval, a.logger)
		scheduler.SetPayloadCleaner(a.store)
		scheduler.OnRefresh(func(ctx context.Context) { a.analyzeAll() })
		go scheduler.Run(ctx)
	} else {
		a.logger.Info("polling disabled")
	}

	// The API computes analyses on demand without persisting them; the
	// scheduler's post-refresh pass owns the analyses table.
	readOnly := decision.NewEngine(a.history, a.store, nil, a.cfg.EngineConfig(), a.logger)
	server := api.NewServer(a.store, readOnly, a.history, a.catalog.Products(), c.Port, a.store.Today, a.logger)
	return server.Run(ctx)
}

// analyzeAll records today's analysis for every parcel and logs the urgent ones.
func (a *app) analyzeAll() {
	parcels, err := a.store.ListParcels()
	if err != nil {
		a.logger.Error("list parcels", "err", err)
		return
	}
	today := a.store.Today()
	for _, p := range parcels {
		an := a.engine.Analyze(p, today)
		if an.Verdict.Urgency == decision.UrgencyHigh {
			a.logger.Warn("treatment recommended", "parcel", p.Name, "score", an.Verdict.Score, "alerts", an.Verdict.Alerts)
		} else {
			a.logger.Info("parcel analysed", "parcel", p.Name, "urgency", an.Verdict.Urgency, "score", an.Verdict.Score)
		}
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
