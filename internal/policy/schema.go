package policy

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// ValidationError describes one schema violation.
type ValidationError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ValidationErrors collects every violation found in a config.
type ValidationErrors []ValidationError

func (es ValidationErrors) Error() string {
	msgs := make([]string, len(es))
	for i, e := range es {
		msgs[i] = e.Error()
	}
	return "invalid policy: " + strings.Join(msgs, "; ")
}

// Validate checks cfg against the CUE schema and compiles its amounts.
func Validate(cfg Config) error {
	ctx := cuecontext.New()
	schema, err := policySchema(ctx)
	if err != nil {
		return err
	}
	v := ctx.Encode(cfg)
	if err := v.Err(); err != nil {
		return fmt.Errorf("encode policy: %w", err)
	}
	if err := schema.Unify(v).Validate(cue.Concrete(true)); err != nil {
		return toValidationErrors(err)
	}
	for key, r := range cfg.Chains {
		if _, err := compileRule(key, r); err != nil {
			return ValidationErrors{{Path: "chains." + key, Message: err.Error()}}
		}
	}
	return nil
}

// CompileCUE parses a CUE policy document, validates it against the schema
// and decodes it into a Config.
func CompileCUE(filename string, src []byte) (Config, error) {
	ctx := cuecontext.New()
	schema, err := policySchema(ctx)
	if err != nil {
		return Config{}, err
	}
	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return Config{}, fmt.Errorf("compile %s: %w", filename, err)
	}
	// Accept either a top-level policy or one nested under "policy".
	if p := v.LookupPath(cue.ParsePath("policy")); p.Exists() {
		v = p
	}
	unified := schema.Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return Config{}, toValidationErrors(err)
	}
	var cfg Config
	if err := unified.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode %s: %w", filename, err)
	}
	return cfg, nil
}

// LoadFile reads a policy from path. The format follows the extension:
// .cue, .yaml/.yml or .toml. The result is always schema-validated.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read policy: %w", err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".cue":
		return CompileCUE(path, data)
	case ".toml":
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return Config{}, fmt.Errorf("parse TOML policy: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse YAML policy: %w", err)
		}
	default:
		return Config{}, fmt.Errorf("unsupported policy format %q", ext)
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func policySchema(ctx *cue.Context) (cue.Value, error) {
	v := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := v.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("compile policy schema: %w", err)
	}
	return v.LookupPath(cue.ParsePath("#Policy")), nil
}

func toValidationErrors(err error) error {
	var out ValidationErrors
	for _, e := range cueerrors.Errors(err) {
		out = append(out, ValidationError{
			Path:    strings.Join(e.Path(), "."),
			Message: e.Error(),
		})
	}
	if len(out) == 0 {
		return errors.Join(errors.New("invalid policy"), err)
	}
	return out
}
