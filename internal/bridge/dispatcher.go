// Package bridge exposes the diary operations under the command names the
// desktop UI invokes.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/TheMichaelB/silentpen/internal/events"
	"github.com/TheMichaelB/silentpen/internal/models"
)

// Command names.
const (
	CmdSaveDiary   = "save_diary"
	CmdLoadDiary   = "load_diary"
	CmdExportDiary = "export_diary"
	CmdImportDiary = "import_diary"
)

// Diary is the set of operations the bridge serves.
type Diary interface {
	Save(ctx context.Context, content, password string) error
	List(ctx context.Context, password string) ([]models.EntryMeta, error)
	Export(ctx context.Context, password, exportPassword string) (string, error)
	Import(ctx context.Context, importPassword, bundle, activePassword string) (int, error)
}

type saveArgs struct {
	Content  string `json:"content" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type loadArgs struct {
	Password string `json:"password" validate:"required"`
}

type exportArgs struct {
	Password       string `json:"password" validate:"required"`
	ExportPassword string `json:"exportPwd" validate:"required"`
}

type importArgs struct {
	ImportPassword string `json:"importPwd" validate:"required"`
	Content        string `json:"content" validate:"required"`
	Password       string `json:"password" validate:"required"`
}

// ImportResult is the import_diary result.
type ImportResult struct {
	Imported int `json:"imported"`
}

// Dispatcher decodes command arguments and routes them to the diary.
type Dispatcher struct {
	diary     Diary
	validator *validator.Validate
	logger    *events.Logger
}

// NewDispatcher creates a dispatcher for diary.
func NewDispatcher(diary Diary, logger *events.Logger) *Dispatcher {
	v := validator.New()
	// Report fields by their wire names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Dispatcher{
		diary:     diary,
		validator: v,
		logger:    logger.WithField("component", "dispatcher"),
	}
}

// Dispatch runs command with its JSON arguments.
//
// load_diary returns rows of [date, time, words]. When some entries are
// corrupted the verified rows are returned together with the error.
func (d *Dispatcher) Dispatch(ctx context.Context, command string, raw json.RawMessage) (interface{}, error) {
	switch command {
	case CmdSaveDiary:
		var args saveArgs
		if err := d.decode(raw, &args); err != nil {
			return nil, err
		}
		return nil, d.diary.Save(ctx, args.Content, args.Password)

	case CmdLoadDiary:
		var args loadArgs
		if err := d.decode(raw, &args); err != nil {
			return nil, err
		}
		metas, err := d.diary.List(ctx, args.Password)
		if metas == nil {
			return nil, err
		}
		return rows(metas), err

	case CmdExportDiary:
		var args exportArgs
		if err := d.decode(raw, &args); err != nil {
			return nil, err
		}
		bundle, err := d.diary.Export(ctx, args.Password, args.ExportPassword)
		if err != nil {
			return nil, err
		}
		return bundle, nil

	case CmdImportDiary:
		var args importArgs
		if err := d.decode(raw, &args); err != nil {
			return nil, err
		}
		n, err := d.diary.Import(ctx, args.ImportPassword, args.Content, args.Password)
		if err != nil {
			return nil, err
		}
		return ImportResult{Imported: n}, nil

	default:
		d.logger.WithField("command", command).Warn("Unknown command")
		return nil, fmt.Errorf("%w: unknown command %q", models.ErrInvalidInput, command)
	}
}

// decode unmarshals and validates args. Error messages name fields only.
func (d *Dispatcher) decode(raw json.RawMessage, args interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, args); err != nil {
		return fmt.Errorf("%w: arguments must be a JSON object", models.ErrInvalidInput)
	}

	if err := d.validator.Struct(args); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, len(verrs))
			for i, fe := range verrs {
				fields[i] = fe.Field()
			}
			return fmt.Errorf("%w: missing %s", models.ErrInvalidInput, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
	}
	return nil
}

func rows(metas []models.EntryMeta) [][]interface{} {
	out := make([][]interface{}, len(metas))
	for i, m := range metas {
		out[i] = []interface{}{m.Date, m.Time, m.WordCount}
	}
	return out
}
