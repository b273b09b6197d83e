package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/fulmenhq/gofulmen/foundry"
	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/CurseForgeCommunity/CFLookup/pkg/modpack"
)

var manifestCmd = &cobra.Command{
	Use:   "manifest",
	Short: "Validate and check modpack manifests",
	Long: `Validate and check CurseForge modpack manifests.

A manifest is either a manifest.json file or a modpack zip with
manifest.json at its root.

Examples:
  cflookup manifest validate manifest.json
  cflookup manifest check MyPack-1.0.zip
  cflookup manifest check --project 123456 --file 4567890`,
}

var manifestValidateCmd = &cobra.Command{
	Use:   "validate <path>",
	Short: "Validate a manifest against the schema (offline)",
	Args:  cobra.ExactArgs(1),
	RunE:  runManifestValidate,
}

var manifestCheckCmd = &cobra.Command{
	Use:   "check [path]",
	Short: "List mods in a pack that third-party launchers cannot download",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runManifestCheck,
}

func init() {
	rootCmd.AddCommand(manifestCmd)
	manifestCmd.AddCommand(manifestValidateCmd)
	manifestCmd.AddCommand(manifestCheckCmd)
	manifestCheckCmd.Flags().Int64("project", 0, "Check a published pack: project ID")
	manifestCheckCmd.Flags().Int64("file", 0, "Check a published pack: file ID")
	manifestCheckCmd.Flags().Bool("json", false, "Output as JSON")
}

func runManifestValidate(cmd *cobra.Command, args []string) error {
	m, err := loadManifest(args[0])
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "valid: %s %s (minecraft %s, %d files)\n",
		displayName(m), m.Version, m.Minecraft.Version, len(m.Files))
	return nil
}

func loadManifest(path string) (*modpack.Manifest, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, exitError(foundry.ExitFileNotFound, "Manifest not found", err)
	}
	m, err := modpack.Load(path)
	if err == nil {
		return m, nil
	}
	switch {
	case errors.Is(err, modpack.ErrValidationFailed), errors.Is(err, modpack.ErrNoManifest):
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid manifest", err)
	default:
		return nil, exitError(foundry.ExitFileReadError, "Failed to read manifest", err)
	}
}

func displayName(m *modpack.Manifest) string {
	if m.Name == "" {
		return "(unnamed pack)"
	}
	return m.Name
}

func runManifestCheck(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	projectID, _ := cmd.Flags().GetInt64("project")
	fileID, _ := cmd.Flags().GetInt64("file")
	asJSON, _ := cmd.Flags().GetBool("json")

	remote := projectID > 0 || fileID > 0
	switch {
	case remote && len(args) > 0:
		return exitError(foundry.ExitInvalidArgument, "Conflicting arguments", fmt.Errorf("give a path or --project/--file, not both"))
	case remote && (projectID <= 0 || fileID <= 0):
		return exitError(foundry.ExitInvalidArgument, "Invalid arguments", fmt.Errorf("--project and --file must both be positive"))
	case !remote && len(args) == 0:
		return exitError(foundry.ExitInvalidArgument, "Missing manifest", fmt.Errorf("give a path or --project/--file"))
	}

	var m *modpack.Manifest
	if !remote {
		var err error
		if m, err = loadManifest(args[0]); err != nil {
			return err
		}
	}

	d, err := openDeps(ctx, needAPI)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to create CurseForge client", err)
	}
	defer func() { _ = d.Close() }()
	checker := d.checker()

	var res *modpack.Result
	if remote {
		res, err = checker.CheckProjectFile(ctx, projectID, fileID)
	} else {
		res, err = checker.Check(ctx, m)
	}
	if errors.Is(err, modpack.ErrNotDistributableModpack) || errors.Is(err, modpack.ErrNoDownloadURL) {
		return exitError(foundry.ExitInvalidArgument, "Pack cannot be checked", err)
	}
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Manifest check failed", err)
	}
	return printCheckResult(cmd.OutOrStdout(), res, asJSON)
}

func printCheckResult(w io.Writer, res *modpack.Result, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	name := "(unnamed pack)"
	if res.Manifest != nil {
		name = displayName(res.Manifest)
	}
	if res.OK() {
		_, _ = fmt.Fprintf(w, "%s: all %d projects are downloadable\n", name, res.ProjectsChecked)
		return nil
	}

	_, _ = fmt.Fprintf(w, "%s: %d of %d projects cannot be downloaded by third-party launchers\n\n",
		name, len(res.Unavailable), res.ProjectsChecked)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "PROJECT ID\tNAME\tSLUG\tAVAILABLE\tDISTRIBUTION")
	for _, mod := range res.Unavailable {
		dist := "allowed"
		if mod.AllowModDistribution != nil && !*mod.AllowModDistribution {
			dist = "blocked"
		}
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%t\t%s\n", mod.ID, mod.Name, mod.Slug, mod.IsAvailable, dist)
	}
	return tw.Flush()
}
