package cfg

import (
	"bytes"
	"errors"
	"flag"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/keithlinneman/archive-ingest/internal/xerrors"
)

// LimitsFile is the optional YAML policy file named by -limits-file.
// Unset keys leave the flag value alone.
type LimitsFile struct {
	MaxUncompressedBytes *ByteSize `yaml:"max_uncompressed_bytes"`
	MaxUploadBytes       *ByteSize `yaml:"max_upload_bytes"`
	MaxEntries           *int      `yaml:"max_entries"`
	AllowedExtensions    []string  `yaml:"allowed_extensions"`
}

// LoadLimitsFile reads and strictly decodes a limits file. Unknown keys are errors.
func LoadLimitsFile(fsys afero.Fs, path string) (LimitsFile, error) {
	var lf LimitsFile

	raw, err := afero.ReadFile(fsys, path)
	if err != nil {
		return lf, xerrors.Wrapf(err, "read limits file %s", path)
	}

	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&lf); err != nil && !errors.Is(err, io.EOF) {
		return lf, xerrors.Wrapf(err, "parse limits file %s", path)
	}
	return lf, nil
}

// ApplyLimitsFile copies values from lf into flags that were not set on the
// command line or from the environment. Call it after FillFromEnv.
func ApplyLimitsFile(fs *flag.FlagSet, lf LimitsFile) error {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	values := map[string]string{}
	if lf.MaxUncompressedBytes != nil {
		values["max-uncompressed-bytes"] = lf.MaxUncompressedBytes.String()
	}
	if lf.MaxUploadBytes != nil {
		values["max-upload-bytes"] = lf.MaxUploadBytes.String()
	}
	if lf.MaxEntries != nil {
		values["max-entries"] = strconv.Itoa(*lf.MaxEntries)
	}
	if len(lf.AllowedExtensions) > 0 {
		values["allowed-extensions"] = strings.Join(lf.AllowedExtensions, ",")
	}

	var errs []error
	for name, v := range values {
		if explicit[name] {
			continue
		}
		if err := fs.Set(name, v); err != nil {
			errs = append(errs, xerrors.Wrapf(err, "limits file %s", name))
		}
	}
	return errors.Join(errs...)
}
