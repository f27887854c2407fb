package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/user/cartograph"
	"github.com/user/cartograph/packages/pack"
)

var newCmd = &cobra.Command{
	Use:   "new <name>",
	Short: "Create an empty project and print its id",
	Args:  cobra.ExactArgs(1),
	RunE:  runNew,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored projects",
	RunE:  runList,
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <id>",
	Short: "Load a project, migrating if needed, and print a summary",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

var exportCmd = &cobra.Command{
	Use:   "export <id> <file>",
	Short: "Write a project to a compressed archive at the current version",
	Args:  cobra.ExactArgs(2),
	RunE:  runExport,
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Load a project archive and store it",
	Args:  cobra.ExactArgs(1),
	RunE:  runImport,
}

var (
	inspectFormat string
	importID      string
)

func init() {
	inspectCmd.Flags().StringVar(&inspectFormat, "format", "json", "Output format: json or yaml")
	importCmd.Flags().StringVar(&importID, "id", "", "Store under this id instead of the archived one")
}

func runNew(cmd *cobra.Command, args []string) error {
	return withEnv(func(e *env) error {
		s := e.session()
		s.NewProject(args[0])
		if err := s.Save(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), s.ProjectID())
		return nil
	})
}

func runList(cmd *cobra.Command, args []string) error {
	return withEnv(func(e *env) error {
		ids, err := e.store.List(cmd.Context())
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Fprintln(cmd.OutOrStdout(), id)
		}
		return nil
	})
}

// projectSummary is the inspect output.
type projectSummary struct {
	ID            string          `json:"id" yaml:"id"`
	Name          string          `json:"name" yaml:"name"`
	Version       string          `json:"version" yaml:"version"`
	SourceVersion string          `json:"sourceVersion,omitempty" yaml:"sourceVersion,omitempty"`
	Migrations    []string        `json:"migrations,omitempty" yaml:"migrations,omitempty"`
	Projection    string          `json:"projection" yaml:"projection"`
	ActiveLayer   string          `json:"activeLayer,omitempty" yaml:"activeLayer,omitempty"`
	Layers        []layerSummary  `json:"layers" yaml:"layers"`
	Layouts       []layoutSummary `json:"layouts" yaml:"layouts"`
	SharedViews   []viewSummary   `json:"sharedViews" yaml:"sharedViews"`
	ActiveView    string          `json:"activeView,omitempty" yaml:"activeView,omitempty"`
	Attachments   []string        `json:"attachments,omitempty" yaml:"attachments,omitempty"`
}

type layerSummary struct {
	ID       string  `json:"id" yaml:"id"`
	Name     string  `json:"name" yaml:"name"`
	Type     string  `json:"type" yaml:"type"`
	Visible  bool    `json:"visible" yaml:"visible"`
	Opacity  float64 `json:"opacity" yaml:"opacity"`
	Features int     `json:"featureBytes,omitempty" yaml:"featureBytes,omitempty"`
	Remote   string  `json:"remote,omitempty" yaml:"remote,omitempty"`
}

type layoutSummary struct {
	ID     string `json:"id" yaml:"id"`
	Name   string `json:"name" yaml:"name"`
	Format string `json:"format" yaml:"format"`
	Scale  string `json:"scale,omitempty" yaml:"scale,omitempty"`
}

type viewSummary struct {
	ID     string   `json:"id" yaml:"id"`
	Layers []string `json:"layers" yaml:"layers"`
}

func summarize(snap *cartograph.Snapshot) projectSummary {
	st := snap.State()
	out := projectSummary{
		ID:            st.Metadata.ID,
		Name:          st.Metadata.Name,
		Version:       string(st.Metadata.Version),
		SourceVersion: string(snap.SourceVersion()),
		Migrations:    snap.Steps(),
		Projection:    st.Metadata.Projection,
		ActiveLayer:   string(st.ActiveLayer),
		ActiveView:    string(st.SharedViews.ActiveID),
		Attachments:   st.Attachments.Names(),
		Layers:        []layerSummary{},
		Layouts:       []layoutSummary{},
		SharedViews:   []viewSummary{},
	}
	for _, l := range st.Layers {
		ls := layerSummary{
			ID:       string(l.ID),
			Name:     l.Name,
			Type:     l.Type,
			Visible:  l.Visible,
			Opacity:  l.Opacity,
			Features: len(l.Features),
		}
		if l.Remote != nil {
			ls.Remote = l.Remote.Kind + " " + l.Remote.URL
		}
		out.Layers = append(out.Layers, ls)
	}
	for _, l := range st.Layouts {
		ls := layoutSummary{
			ID:     string(l.ID),
			Name:   l.Name,
			Format: fmt.Sprintf("%s %s", l.Format.Name, l.Format.Orientation),
		}
		if l.Scale != nil {
			ls.Scale = fmt.Sprintf("%g,%g", l.Scale.X, l.Scale.Y)
		}
		out.Layouts = append(out.Layouts, ls)
	}
	for _, v := range st.SharedViews.Views {
		vs := viewSummary{ID: string(v.ID), Layers: []string{}}
		for _, e := range v.LayerIndex {
			name := string(e.LayerID)
			if !e.Visible {
				name += " (hidden)"
			}
			vs.Layers = append(vs.Layers, name)
		}
		out.SharedViews = append(out.SharedViews, vs)
	}
	return out
}

func writeSummary(w io.Writer, format string, sum projectSummary) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(sum)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(sum); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

func runInspect(cmd *cobra.Command, args []string) error {
	return withEnv(func(e *env) error {
		snap, err := e.session().Open(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return writeSummary(cmd.OutOrStdout(), inspectFormat, summarize(snap))
	})
}

func runExport(cmd *cobra.Command, args []string) error {
	id, path := args[0], args[1]
	return withEnv(func(e *env) error {
		s := e.session()
		if _, err := s.Open(cmd.Context(), id); err != nil {
			return err
		}
		rec, err := s.Record()
		if err != nil {
			return err
		}
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		if err := pack.Write(f, id, rec); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		e.logger.Info("project exported", "project", id, "file", path)
		return nil
	})
}

func runImport(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()
	id, rec, err := pack.Read(f)
	if err != nil {
		return err
	}
	if importID != "" {
		id = importID
	}

	return withEnv(func(e *env) error {
		s := e.session()
		// Loading first migrates the archive and rejects anything that would not open.
		if _, err := s.Install(cmd.Context(), id, rec); err != nil {
			return err
		}
		if err := s.Save(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	})
}
