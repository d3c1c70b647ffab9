package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/davecgh/go-spew/spew"
	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"
	"github.com/pkg/errors"
	"lab47.dev/kiln/pkg/build"
	"lab47.dev/kiln/pkg/cmd"
	"lab47.dev/kiln/pkg/config"
	"lab47.dev/kiln/pkg/data"
	"lab47.dev/kiln/pkg/lockfile"
	"lab47.dev/kiln/pkg/ops"
	"lab47.dev/kiln/pkg/recipe"
	"lab47.dev/kiln/pkg/vcs"
)

var Version = "0.1.0"

func main() {
	c := cli.NewCLI("kiln", Version)
	c.Args = os.Args[1:]
	c.Commands = map[string]cli.CommandFactory{
		"setup": func() (cli.Command, error) {
			return cmd.New(
				"setup",
				"create the configuration and data directories and signing key",
				setupF,
			), nil
		},
		"version": func() (cli.Command, error) {
			return cmd.New(
				"version",
				"print the package version derived from the recipe's checkout",
				versionF,
			), nil
		},
		"info": func() (cli.Command, error) {
			return cmd.New(
				"info",
				"show the package metadata and the libraries consumers link",
				infoF,
			), nil
		},
		"build": func() (cli.Command, error) {
			return cmd.New(
				"build",
				"export the sources and run the build tool",
				buildF,
			), nil
		},
		"package": func() (cli.Command, error) {
			return cmd.New(
				"package",
				"lay out a package from build output",
				packageF,
			), nil
		},
		"create": func() (cli.Command, error) {
			return cmd.New(
				"create",
				"build and package in one step",
				createF,
			), nil
		},
		"test": func() (cli.Command, error) {
			return cmd.New(
				"test",
				"build and run a consumer program against the package",
				testF,
			), nil
		},
		"verify": func() (cli.Command, error) {
			return cmd.New(
				"verify",
				"check a package against its recorded digests",
				verifyF,
			), nil
		},
		"export": func() (cli.Command, error) {
			return cmd.New(
				"export",
				"write a signed archive of a package",
				exportF,
			), nil
		},
		"publish": func() (cli.Command, error) {
			return cmd.New(
				"publish",
				"push an archive to an OCI registry",
				publishF,
			), nil
		},
		"inspect": func() (cli.Command, error) {
			return cmd.New(
				"inspect",
				"output information about an archive",
				inspectF,
			), nil
		},
	}

	exitStatus, err := c.Run()
	if err != nil {
		log.Println(err)
	}

	os.Exit(exitStatus)
}

type recipeOptions struct {
	Recipe   string `short:"r" long:"recipe" default:"." description:"recipe directory or kiln.yaml file"`
	Revision string `long:"revision" description:"use this revision hash instead of asking git"`
}

type configOptions struct {
	Settings []string `short:"s" long:"setting" description:"build setting as name=value, repeatable"`
	Options  []string `short:"o" long:"option" description:"recipe option as name=value, repeatable"`
}

func loadRecipe(path string) (*recipe.Recipe, string, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, "", err
	}

	dir := path
	file := filepath.Join(path, recipe.DefaultFile)

	if !fi.IsDir() {
		dir = filepath.Dir(path)
		file = path
	}

	dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, "", err
	}

	if _, err := os.Stat(file); err != nil {
		hclog.L().Debug("no recipe file, using the built in recipe", "path", file)
		return defaultRecipe(dir)
	}

	rec, err := recipe.LoadFile(file)
	if err != nil {
		return nil, "", err
	}

	return rec, dir, nil
}

// defaultRecipe places the built in recipe, whose exports are written for a
// recipe directory one level below the top of the checkout. Run from the top
// itself, the exports are rooted there instead. Anywhere else the exports
// would reach outside the checkout, so the recipe is refused.
func defaultRecipe(dir string) (*recipe.Recipe, string, error) {
	top, err := vcs.TopLevel(dir)
	if err != nil {
		return nil, "", errors.Wrapf(err, "no %s in %s and it is not in a git checkout", recipe.DefaultFile, dir)
	}

	top = filepath.Clean(top)

	rec := recipe.Default()

	base := filepath.Join(dir, filepath.FromSlash(rec.ExportsSources.Base()))

	switch {
	case base == top:
	case dir == top:
		rec.ExportsSources = rec.ExportsSources.Rooted()
	default:
		return nil, "", errors.Errorf(
			"no %s in %s; the built in recipe runs from the checkout top %s or one directory below it",
			recipe.DefaultFile, dir, top)
	}

	return rec, dir, nil
}

func newEvaluator(ctx context.Context, cfg *config.Config, opts recipeOptions) (*ops.Evaluator, error) {
	rec, dir, err := loadRecipe(opts.Recipe)
	if err != nil {
		return nil, err
	}

	var src vcs.RevisionSource
	if opts.Revision != "" {
		if _, err := vcs.Short(opts.Revision); err != nil {
			return nil, errors.Wrapf(err, "--revision")
		}

		src = vcs.StaticRevision(opts.Revision)
	}

	e := ops.NewEvaluator(ctx, hclog.L().Named("ops"), rec, dir, src)

	if cfg != nil {
		e.Tool = &build.CMake{Path: cfg.CMake, L: hclog.L().Named("cmake")}
		e.BuildRoot = filepath.Join(cfg.BuildPath(), e.Recipe().ID())
	}

	return e, nil
}

func parsePairs(kind string, pairs []string) (map[string]string, error) {
	out := map[string]string{}

	for _, p := range pairs {
		idx := strings.IndexByte(p, '=')
		if idx <= 0 {
			return nil, errors.Errorf("%s must be name=value: %q", kind, p)
		}

		out[p[:idx]] = p[idx+1:]
	}

	return out, nil
}

// resolveConfig layers command line settings over the host's, keeping only
// the settings the recipe declares.
func resolveConfig(cfg *config.Config, rec *recipe.Recipe, opts configOptions) (recipe.Settings, map[string]string, error) {
	host, err := cfg.HostSettings()
	if err != nil {
		hclog.L().Warn("unable to detect host settings", "error", err)
		host = map[string]string{}
	}

	given, err := parsePairs("setting", opts.Settings)
	if err != nil {
		return nil, nil, err
	}

	settings := recipe.Settings{}

	for _, name := range rec.Settings {
		if v, ok := host[name]; ok {
			settings[name] = v
		}
	}

	for k, v := range given {
		settings[k] = v
	}

	options, err := parsePairs("option", opts.Options)
	if err != nil {
		return nil, nil, err
	}

	return settings, options, nil
}

func takeLock(ctx context.Context, cfg *config.Config) (func(), error) {
	var showLock bool

	return lockfile.Take(ctx, filepath.Join(cfg.PackagesPath(), lockfile.Name), func() {
		if !showLock {
			fmt.Printf("Lock detected, waiting...\n")
			showLock = true
		}
	})
}

// locatePackage accepts either a package directory or a package id.
func locatePackage(cfg *config.Config, ref string) (string, error) {
	if fi, err := os.Stat(ref); err == nil && fi.IsDir() {
		return ref, nil
	}

	return cfg.Store().Locate(ref)
}

func setupF(ctx context.Context, opts struct{}) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return errors.Wrapf(err, "Unable to create or load configuration directory")
	}

	fmt.Printf("Config: %s\n", cfg.Path())
	fmt.Printf("Data Dir: %s\n", cfg.DataDir)

	id, err := cfg.SignerId()
	if err != nil {
		return errors.Wrapf(err, "Unable to calculate user keys")
	}

	fmt.Printf("Signer Id: %s\n", id)

	settings, err := cfg.HostSettings()
	if err != nil {
		return err
	}

	var keys []string
	for k := range settings {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	fmt.Printf("Host Settings:\n")

	for _, k := range keys {
		fmt.Printf("  %s=%s\n", k, settings[k])
	}

	return nil
}

func versionF(ctx context.Context, opts struct {
	recipeOptions
}) error {
	e, err := newEvaluator(ctx, nil, opts.recipeOptions)
	if err != nil {
		return err
	}

	v, ok := e.ResolveVersion(ctx)
	if !ok {
		fmt.Println("(none)")
		return nil
	}

	fmt.Println(v)

	return nil
}

func infoF(ctx context.Context, opts struct {
	recipeOptions
	JSON bool `long:"json" description:"output the package info as JSON"`
}) error {
	e, err := newEvaluator(ctx, nil, opts.recipeOptions)
	if err != nil {
		return err
	}

	info := e.Info()

	if opts.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}

	tw := tabwriter.NewWriter(os.Stdout, 4, 2, 1, ' ', 0)
	defer tw.Flush()

	fmt.Fprintf(tw, "Name:\t%s\n", info.Name)
	fmt.Fprintf(tw, "Version:\t%s\n", info.Version)
	fmt.Fprintf(tw, "URL:\t%s\n", info.URL)
	fmt.Fprintf(tw, "License:\t%s\n", info.License)
	fmt.Fprintf(tw, "Description:\t%s\n", info.Description)

	var reqs []string
	for _, r := range info.Requires {
		reqs = append(reqs, r.String())
	}

	fmt.Fprintf(tw, "Requires:\t%s\n", strings.Join(reqs, ", "))
	fmt.Fprintf(tw, "Libs:\t%s\n", strings.Join(e.PackageInfo().Libs, ", "))

	return nil
}

func buildF(ctx context.Context, opts struct {
	recipeOptions
	configOptions
	BuildRoot string `long:"build-root" description:"build here instead of the data directory"`
}) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	e, err := newEvaluator(ctx, cfg, opts.recipeOptions)
	if err != nil {
		return err
	}

	if opts.BuildRoot != "" {
		e.BuildRoot = opts.BuildRoot
	}

	settings, options, err := resolveConfig(cfg, e.Recipe(), opts.configOptions)
	if err != nil {
		return err
	}

	ui := ops.GetUI(ctx)
	ui.Evaluating(e.Recipe())

	_, err = e.ExportSources(ctx, e.BuildRoot)
	if err != nil {
		return err
	}

	err = e.Build(ctx, settings, options)
	if err != nil {
		return err
	}

	fmt.Printf("Build output in %s\n", e.BuildRoot)

	return nil
}

func packageF(ctx context.Context, opts struct {
	recipeOptions
	configOptions
	BuildRoot string `long:"build-root" description:"package the build output here instead of the data directory"`
	Out       string `long:"out" description:"write the package here instead of the data directory"`
	Strict    bool   `long:"strict" description:"fail when no files were packaged"`
}) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	e, err := newEvaluator(ctx, cfg, opts.recipeOptions)
	if err != nil {
		return err
	}

	if opts.BuildRoot != "" {
		e.BuildRoot = opts.BuildRoot
	}

	e.Strict = opts.Strict

	out := opts.Out
	if out == "" {
		out = cfg.Store().ExpectedPath(e.Recipe().ID())
	}

	cleanup, err := takeLock(ctx, cfg)
	if err != nil {
		return err
	}

	defer cleanup()

	report, err := e.Package(ctx, e.BuildRoot, out)
	if err != nil {
		return err
	}

	ops.GetUI(ctx).Packaged(out, report)

	return nil
}

func createF(ctx context.Context, opts struct {
	recipeOptions
	configOptions
	Clean  bool `long:"clean" description:"remove previous build output first"`
	Strict bool `long:"strict" description:"fail when no files were packaged"`
	Export bool `long:"export" description:"also write a signed archive"`
}) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	e, err := newEvaluator(ctx, cfg, opts.recipeOptions)
	if err != nil {
		return err
	}

	e.Strict = opts.Strict

	settings, options, err := resolveConfig(cfg, e.Recipe(), opts.configOptions)
	if err != nil {
		return err
	}

	cleanup, err := takeLock(ctx, cfg)
	if err != nil {
		return err
	}

	defer cleanup()

	res, err := e.Create(ctx, ops.CreateOptions{
		Settings:    settings,
		Options:     options,
		PackageRoot: cfg.Store().ExpectedPath(e.Recipe().ID()),
		Clean:       opts.Clean,
	})
	if err != nil {
		return err
	}

	if opts.Export {
		_, err = exportPackage(ctx, cfg, res.PackageRoot, cfg.ArchivesPath())
		if err != nil {
			return err
		}
	}

	return nil
}

func testF(ctx context.Context, opts struct {
	recipeOptions
	configOptions
	Package  string `short:"p" long:"package" description:"package directory or id, defaults to the recipe's package"`
	Consumer string `long:"consumer" description:"consumer project, defaults to test_package in the recipe directory"`
}) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	e, err := newEvaluator(ctx, cfg, opts.recipeOptions)
	if err != nil {
		return err
	}

	settings, options, err := resolveConfig(cfg, e.Recipe(), opts.configOptions)
	if err != nil {
		return err
	}

	ref := opts.Package
	if ref == "" {
		ref = e.Recipe().ID()
	}

	root, err := locatePackage(cfg, ref)
	if err != nil {
		return err
	}

	err = e.TestPackage(ctx, ops.TestPackageOptions{
		Settings:    settings,
		Options:     options,
		PackageRoot: root,
		ConsumerDir: opts.Consumer,
	})
	if err != nil {
		return err
	}

	fmt.Printf("%s: consumer built and ran\n", e.Recipe().ID())

	return nil
}

func verifyF(ctx context.Context, opts struct {
	Pos struct {
		Package string `positional-arg-name:"package" required:"yes"`
	} `positional-args:"yes"`
}) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	root, err := locatePackage(cfg, opts.Pos.Package)
	if err != nil {
		return err
	}

	info, err := ops.ReadPackageInfo(root)
	if err != nil {
		return err
	}

	var e ops.Evaluator

	err = e.Verify(root)
	if err != nil {
		return errors.Wrapf(err, "%s failed verification", info.ID())
	}

	fmt.Printf("%s: ok\n", info.ID())

	return nil
}

func platform() *data.ArchivePlatform {
	osName, osVersion, arch, err := config.Platform()
	if err != nil {
		hclog.L().Warn("unable to detect platform", "error", err)
		return nil
	}

	return &data.ArchivePlatform{
		OS:        osName,
		OSVersion: osVersion,
		Arch:      arch,
	}
}

func exportPackage(ctx context.Context, cfg *config.Config, root, dir string) (*ops.ExportedArchive, error) {
	if _, err := cfg.SignerId(); err != nil {
		return nil, err
	}

	ae := &ops.ArchiveExport{
		PrivateKey: cfg.Private(),
		PublicKey:  cfg.Public(),
		Platform:   platform(),
	}

	ae.SetLogger(hclog.L().Named("export"))

	return ae.Export(ctx, root, dir)
}

func exportF(ctx context.Context, opts struct {
	Dir string `long:"dir" description:"write the archive here instead of the data directory"`

	Pos struct {
		Package string `positional-arg-name:"package" required:"yes"`
	} `positional-args:"yes"`
}) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	root, err := locatePackage(cfg, opts.Pos.Package)
	if err != nil {
		return err
	}

	dir := opts.Dir
	if dir == "" {
		dir = cfg.ArchivesPath()
	}

	_, err = exportPackage(ctx, cfg, root, dir)
	return err
}

func publishF(ctx context.Context, opts struct {
	Repo string `long:"repo" description:"OCI repository to push to, defaults to the configured registry"`

	Pos struct {
		Archives []string `positional-arg-name:"archive" required:"1"`
	} `positional-args:"yes"`
}) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	repo := opts.Repo
	if repo == "" {
		repo = cfg.Registry
	}

	if repo == "" {
		return errors.New("no repository given and no registry configured")
	}

	var cp ops.ArchivePublish
	cp.Username = os.Getenv("KILN_REGISTRY_USER")
	cp.Password = os.Getenv("KILN_REGISTRY_TOKEN")
	cp.SetLogger(hclog.L().Named("publish"))

	for _, path := range opts.Pos.Archives {
		ref, err := cp.Publish(ctx, path, repo)
		if err != nil {
			return err
		}

		fmt.Printf("Published %s\n", ref)
	}

	return nil
}

func inspectF(ctx context.Context, opts struct {
	Dump bool `long:"dump" description:"dump the decoded archive info"`

	Pos struct {
		File string `positional-arg-name:"file" required:"yes"`
	} `positional-args:"yes"`
}) error {
	f, err := os.Open(opts.Pos.File)
	if err != nil {
		return err
	}

	defer f.Close()

	var ai ops.ArchiveInspect

	tw := tabwriter.NewWriter(os.Stdout, 4, 2, 1, ' ', 0)

	err = ai.Show(f, tw)
	tw.Flush()

	if err != nil {
		return err
	}

	if opts.Dump {
		spew.Dump(ai.Info)
	}

	return nil
}
