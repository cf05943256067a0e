package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"

	"github.com/google/uuid"

	"github.com/ftbernales/gmpe-smtk/internal/config"
	"github.com/ftbernales/gmpe-smtk/internal/gmdata"
	"github.com/ftbernales/gmpe-smtk/internal/gmm"
	"github.com/ftbernales/gmpe-smtk/internal/imt"
	"github.com/ftbernales/gmpe-smtk/internal/log"
	"github.com/ftbernales/gmpe-smtk/internal/residuals"
)

const version = "1.0-" + runtime.GOOS + "/" + runtime.GOARCH

func main() {
	cfgFile := flag.String("config", "gmeval.yaml", "Path to the YAML configuration file")
	reportFile := flag.String("report", "", "Report output path (overrides report.path; '-' for stdout)")
	statistic := flag.String("statistic", "", "Statistic to run (overrides analysis.statistic)")
	debug := flag.Bool("debug", false, "Turn on debugging output")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("gmeval %s\n", version)
		os.Exit(0)
	}

	if err := log.Init(*debug); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg, err := config.Load(*cfgFile)
	if err != nil {
		log.Errorf("Failed to load configuration: %v", err)
		os.Exit(1)
	}
	if *reportFile != "" {
		cfg.Report.Path = *reportFile
	}
	if *statistic != "" {
		cfg.Analysis.Statistic = *statistic
	}
	if err := cfg.Validate(); err != nil {
		log.Errorf("Invalid configuration: %v", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		log.Errorf("Analysis error: %v", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	runID := uuid.New().String()
	log.Infof("starting %s analysis, run %s", cfg.Analysis.Statistic, runID)

	imts, err := imt.ParseList(cfg.Analysis.IMTs)
	if err != nil {
		return fmt.Errorf("invalid IMT list: %w", err)
	}
	specs := make([]gmm.Spec, len(cfg.Analysis.Models))
	for i, name := range cfg.Analysis.Models {
		specs[i] = gmm.ByName(name)
	}
	set, err := newRegistry().Resolve(specs)
	if err != nil {
		return fmt.Errorf("failed to resolve models: %w", err)
	}

	store, err := gmdata.OpenRecordStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open record store: %w", err)
	}
	defer store.Close()

	opts := residuals.Options{
		Component: gmdata.Component(cfg.Analysis.Component),
		Normalise: cfg.Analysis.Normalise,
	}

	out, closer, err := reportWriter(cfg.Report.Path)
	if err != nil {
		return err
	}
	defer closer()
	fmt.Fprintf(out, "Run ID: %s\n", runID)

	if cfg.Analysis.Statistic == "SingleStation" {
		return runSingleStation(cfg, set, imts, store, out)
	}

	analysis := residuals.New(set, imts, opts)
	if err := analysis.Compute(store); err != nil {
		return err
	}
	log.Infof("computed residuals for %d records across %d events",
		analysis.NumRecords(), len(analysis.Contexts()))

	switch cfg.Analysis.Statistic {
	case "Residuals":
		return analysis.WriteReport(out, cfg.Report.Separator)
	case "Likelihood":
		return writeLikelihood(analysis, out, cfg.Report.Separator)
	case "LLH":
		return writeLLH(analysis, imts, cfg, out)
	case "MultivariateLLH":
		return writeMultivariate(analysis, cfg, out)
	case "EDR":
		return writeEDR(analysis, cfg, out)
	}
	return fmt.Errorf("unknown statistic %q", cfg.Analysis.Statistic)
}

// newRegistry returns the catalog of built-in models. Table-backed models
// are resolved through TableRef identifiers and need no registration.
func newRegistry() *gmm.Registry {
	return gmm.NewRegistry()
}

func reportWriter(path string) (io.Writer, func(), error) {
	if path == "" || path == "-" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create report file: %w", err)
	}
	return f, func() { f.Close() }, nil
}

func writeLikelihood(a *residuals.Analysis, w io.Writer, sep string) error {
	_, stats := a.LikelihoodValues()
	for _, name := range a.Models() {
		for _, im := range a.IMTs() {
			cell, ok := stats[name][im]
			if !ok {
				continue
			}
			for _, st := range a.Types(name, im) {
				ts := cell[st]
				fmt.Fprintf(w, "%s%s%s%s%s%sMean: %.6f%sStd Dev: %.6f%sMedian LH: %.6f\n",
					name, sep, im, sep, st, sep, ts.Mean, sep, ts.StdDev, sep, ts.MedianLH)
			}
		}
	}
	return nil
}

func writeLLH(a *residuals.Analysis, imts []imt.IMT, cfg *config.Config, w io.Writer) error {
	selected := imts
	if len(cfg.Ranking.LLHIMTs) > 0 {
		var err error
		selected, err = imt.ParseList(cfg.Ranking.LLHIMTs)
		if err != nil {
			return fmt.Errorf("invalid LLH IMT list: %w", err)
		}
	}
	llh, weights := a.LogLikelihoodValues(selected)
	for _, name := range a.Models() {
		for _, im := range selected {
			fmt.Fprintf(w, "%s%s%s%sLLH: %.6f\n", name, cfg.Report.Separator, im, cfg.Report.Separator, llh[name].PerIMT[im])
		}
		fmt.Fprintf(w, "%s%sAll%sLLH: %.6f%sWeight: %.6f\n",
			name, cfg.Report.Separator, cfg.Report.Separator, llh[name].All, cfg.Report.Separator, weights[name])
	}
	return nil
}

func writeMultivariate(a *residuals.Analysis, cfg *config.Config, w io.Writer) error {
	values, summed := a.MultivariateLLH(cfg.Ranking.SumIMTs)
	for _, name := range a.Models() {
		for _, im := range a.IMTs() {
			fmt.Fprintf(w, "%s%s%s%sLLH: %.6f\n", name, cfg.Report.Separator, im, cfg.Report.Separator, values[name][im])
		}
		if cfg.Ranking.SumIMTs {
			fmt.Fprintf(w, "%s%sSum%sLLH: %.6f\n", name, cfg.Report.Separator, cfg.Report.Separator, summed[name])
		}
	}

	result, err := a.BootstrapMultivariateLLH(residuals.BootstrapOptions{
		Iterations: cfg.Ranking.BootstrapIterations,
		Workers:    cfg.Ranking.BootstrapWorkers,
		Seed:       cfg.Ranking.BootstrapSeed,
		SumIMTs:    cfg.Ranking.SumIMTs,
	})
	if err != nil {
		return err
	}
	writeDistinctiveness(result, cfg.Report.Separator, w)
	return nil
}

func writeDistinctiveness(r *residuals.BootstrapResult, sep string, w io.Writer) {
	fmt.Fprintln(w, "Model Distinctiveness")
	for i, a := range r.Models {
		for j, b := range r.Models {
			if i == j {
				continue
			}
			if r.Distinctiveness != nil {
				fmt.Fprintf(w, "%s%svs%s%s%s%.4f\n", a, sep, sep, b, sep, r.Distinctiveness[i][j])
				continue
			}
			for k, im := range r.IMTs {
				fmt.Fprintf(w, "%s%svs%s%s%s%s%s%.4f\n", a, sep, sep, b, sep, im, sep, r.DistinctivenessByIMT[i][j][k])
			}
		}
	}
}

func writeEDR(a *residuals.Analysis, cfg *config.Config, w io.Writer) error {
	results := a.EDR(cfg.Ranking.EDRBandwidth, cfg.Ranking.EDRMultiplier)
	sep := cfg.Report.Separator

	// Rank by EDR, best first.
	names := append([]string(nil), a.Models()...)
	sort.Slice(names, func(i, j int) bool { return results[names[i]].EDR < results[names[j]].EDR })
	for _, name := range names {
		v := results[name]
		fmt.Fprintf(w, "%s%sMDE Norm: %.6f%ssqrt(kappa): %.6f%sEDR: %.6f\n",
			name, sep, v.MDENorm, sep, v.SqrtKappa, sep, v.EDR)
	}
	return nil
}

func runSingleStation(cfg *config.Config, set *gmm.ModelSet, imts []imt.IMT, store *gmdata.RecordStore, out io.Writer) error {
	ssa := residuals.NewSingleStationAnalysis(cfg.Station.SiteIDs, set, imts)
	if err := ssa.ComputeSiteResiduals(store, gmdata.Component(cfg.Analysis.Component)); err != nil {
		return err
	}
	phiSS, phiS2SS, err := ssa.Statistics()
	if err != nil {
		return err
	}
	sep := cfg.Report.Separator
	if err := ssa.WriteReport(out, sep); err != nil {
		return err
	}
	for _, name := range set.Names() {
		for _, im := range imts {
			ss, ok := phiSS[name][im]
			if !ok {
				continue
			}
			s2ss := phiS2SS[name][im]
			fmt.Fprintf(out, "%s%s%s%sphi_ss: %.6f%sphi_s2ss mean: %.6f%sphi_s2ss stddev: %.6f\n",
				name, sep, im, sep, ss, sep, s2ss.Mean, sep, s2ss.StdDev)
		}
	}
	return nil
}
