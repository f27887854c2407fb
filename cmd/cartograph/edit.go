package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/user/cartograph"
	"github.com/user/cartograph/packages/manifest"
)

var editCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Edit a project with commands read from stdin",
	Long: `Edit opens a project and runs one command per input line:

  add-layer <id|-> <name> [vector | xyz <url> | wms <url> <layer>...]
  remove-layer <id>...
  activate <id|->
  rename <name>
  add-layout <id|-> <name>
  scale <layout> <x> <y> | scale <layout> none
  add-view <id|-> <layer>...
  undo | redo | history | save

An id of "-" generates one. Blank lines and lines starting with # are skipped.
Changes are only stored by save.`,
	Args: cobra.ExactArgs(1),
	RunE: runEdit,
}

func runEdit(cmd *cobra.Command, args []string) error {
	return withEnv(func(e *env) error {
		s := e.session()
		if _, err := s.Open(cmd.Context(), args[0]); err != nil {
			return err
		}
		return runScript(cmd.Context(), s, cmd.InOrStdin(), cmd.OutOrStdout())
	})
}

// runScript executes edit commands against s, stopping at the first failing line.
// An undo or redo with nothing to do is reported and is not a failure.
func runScript(ctx context.Context, s *cartograph.Session, r io.Reader, w io.Writer) error {
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		if err := runCommand(ctx, s, strings.Fields(text), w); err != nil {
			return fmt.Errorf("line %d: %s: %w", line, text, err)
		}
	}
	return sc.Err()
}

func runCommand(ctx context.Context, s *cartograph.Session, f []string, w io.Writer) error {
	name, args := f[0], f[1:]
	switch name {
	case "undo":
		cs, err := s.Undo()
		if errors.Is(err, cartograph.ErrNothingToUndo) {
			fmt.Fprintln(w, "nothing to undo")
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "undid %s\n", cs.Label)
		return nil
	case "redo":
		cs, err := s.Redo()
		if errors.Is(err, cartograph.ErrNothingToRedo) {
			fmt.Fprintln(w, "nothing to redo")
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "redid %s\n", cs.Label)
		return nil
	case "history":
		printHistory(w, s.HistoryState())
		return nil
	case "save":
		if err := s.Save(ctx); err != nil {
			return err
		}
		fmt.Fprintf(w, "saved %s\n", s.ProjectID())
		return nil
	}

	build, err := parseEdit(name, args)
	if err != nil {
		return err
	}
	cs, err := s.Edit(strings.Join(f, " "), build)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s\n", cs.Change.Kind())
	return nil
}

// parseEdit turns an editing command into a change builder.
func parseEdit(name string, args []string) (func(d *cartograph.Document) (cartograph.Change, error), error) {
	switch name {
	case "add-layer":
		if len(args) < 2 {
			return nil, errors.New("usage: add-layer <id|-> <name> [vector | xyz <url> | wms <url> <layer>...]")
		}
		l, err := parseLayer(newID(args[0]), args[1], args[2:])
		if err != nil {
			return nil, err
		}
		return func(d *cartograph.Document) (cartograph.Change, error) {
			return cartograph.NewAddLayers(d, l)
		}, nil

	case "remove-layer":
		if len(args) == 0 {
			return nil, errors.New("usage: remove-layer <id>...")
		}
		ids := layerIDs(args)
		return func(d *cartograph.Document) (cartograph.Change, error) {
			return cartograph.NewRemoveLayers(d, ids...)
		}, nil

	case "activate":
		if len(args) != 1 {
			return nil, errors.New("usage: activate <id|->")
		}
		id := cartograph.LayerID(args[0])
		if id == "-" {
			id = ""
		}
		return func(d *cartograph.Document) (cartograph.Change, error) {
			return cartograph.NewSetActiveLayer(d, id)
		}, nil

	case "rename":
		if len(args) == 0 {
			return nil, errors.New("usage: rename <name>")
		}
		title := strings.Join(args, " ")
		return func(d *cartograph.Document) (cartograph.Change, error) {
			return cartograph.NewRenameProject(d, title), nil
		}, nil

	case "add-layout":
		if len(args) != 2 {
			return nil, errors.New("usage: add-layout <id|-> <name>")
		}
		id, title := newID(args[0]), args[1]
		return func(d *cartograph.Document) (cartograph.Change, error) {
			return cartograph.NewAddLayouts(d, cartograph.Layout{
				ID:     cartograph.LayoutID(id),
				Name:   title,
				Format: manifest.PageFormat{Name: "A4", Width: 210, Height: 297, Orientation: "portrait"},
				View:   manifest.MapView{Resolution: 1, Projection: d.Metadata().Projection},
			})
		}, nil

	case "scale":
		scale, err := parseScale(args)
		if err != nil {
			return nil, err
		}
		id := cartograph.LayoutID(args[0])
		return func(d *cartograph.Document) (cartograph.Change, error) {
			return cartograph.NewSetLayoutScale(d, id, scale)
		}, nil

	case "add-view":
		if len(args) == 0 {
			return nil, errors.New("usage: add-view <id|-> <layer>...")
		}
		id, layers := newID(args[0]), layerIDs(args[1:])
		return func(d *cartograph.Document) (cartograph.Change, error) {
			v := cartograph.SharedView{
				ID:   cartograph.ViewID(id),
				View: manifest.MapView{Resolution: 1, Projection: d.Metadata().Projection},
			}
			for _, l := range layers {
				v.LayerIndex = append(v.LayerIndex, cartograph.LayerVisibility{LayerID: l, Visible: true})
			}
			return cartograph.NewAddSharedViewsAndActivate(d, v)
		}, nil
	}
	return nil, fmt.Errorf("unknown command %q", name)
}

func parseLayer(id, name string, kindArgs []string) (cartograph.Layer, error) {
	l := cartograph.Layer{
		ID:      cartograph.LayerID(id),
		Name:    name,
		Visible: true,
		Opacity: 1,
	}
	kind := manifest.LayerVector
	if len(kindArgs) > 0 {
		kind = kindArgs[0]
	}
	switch kind {
	case manifest.LayerVector:
		l.Type = manifest.LayerVector
		l.Style = &manifest.Style{Fill: "#3388ff", Stroke: "#3388ff", StrokeWidth: 1}
		l.Features = []byte(`{"type":"FeatureCollection","features":[]}`)
	case "xyz", "wms":
		if len(kindArgs) < 2 {
			return l, fmt.Errorf("%s layer needs a url", kind)
		}
		l.Type = manifest.LayerRemote
		l.Remote = &manifest.Remote{Kind: kind, URL: kindArgs[1]}
		if kind == "wms" {
			l.Remote.Layers = kindArgs[2:]
		}
	default:
		return l, fmt.Errorf("unknown layer kind %q", kind)
	}
	return l, nil
}

func parseScale(args []string) (*manifest.Scale, error) {
	switch {
	case len(args) == 2 && args[1] == "none":
		return nil, nil
	case len(args) == 3:
		x, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return nil, fmt.Errorf("scale x: %w", err)
		}
		y, err := strconv.ParseFloat(args[2], 64)
		if err != nil {
			return nil, fmt.Errorf("scale y: %w", err)
		}
		return &manifest.Scale{X: x, Y: y}, nil
	}
	return nil, errors.New("usage: scale <layout> <x> <y> | scale <layout> none")
}

func newID(arg string) string {
	if arg == "-" {
		return uuid.NewString()
	}
	return arg
}

func layerIDs(args []string) []cartograph.LayerID {
	ids := make([]cartograph.LayerID, len(args))
	for i, a := range args {
		ids[i] = cartograph.LayerID(a)
	}
	return ids
}

func printHistory(w io.Writer, hs cartograph.HistoryState) {
	for i, cs := range hs.Applied {
		marker := " "
		if i == len(hs.Applied)-1 {
			marker = "*"
		}
		fmt.Fprintf(w, "%s %s %s\n", marker, cs.ID, cs.Label)
	}
	for i := len(hs.Undone) - 1; i >= 0; i-- {
		fmt.Fprintf(w, "  %s %s (undone)\n", hs.Undone[i].ID, hs.Undone[i].Label)
	}
}
