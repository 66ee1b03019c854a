package app

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"

	"remindd/internal/config"
	"remindd/internal/storage"
	logx "remindd/pkg/logx"
)

// ReadDocument returns the stored job document named by the config file,
// indented. It does not start the daemon.
func ReadDocument(ctx context.Context, cfgPath string) ([]byte, error) {
	cfg, err := config.NewConfigManager(cfgPath).Load()
	if err != nil {
		return nil, err
	}
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	st, err := storage.Open(sc, logx.Nop())
	if err != nil {
		return nil, err
	}
	defer st.Close()

	b, err := st.ReadDocument(ctx)
	if errors.Is(err, storage.ErrNotExist) {
		return []byte("{}"), nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", st.Describe())
	}
	var out bytes.Buffer
	if err := json.Indent(&out, b, "", "  "); err != nil {
		return nil, errors.Wrapf(err, "%s holds an invalid document", st.Describe())
	}
	return out.Bytes(), nil
}
