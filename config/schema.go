package config

import (
	"errors"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// ErrInvalid is matched by every schema violation.
var ErrInvalid = errors.New("invalid configuration")

const schemaSource = `
#Config: {
	heap: {
		"initial-slots": int & >=1
		headroom:        int & >=1
	}
	"page-cache": {
		classes: int & >=0 & <=64
		depth:   int & >=0
	}
	log: {
		verbosity: int & >=-4 & <=2
		file:      string
	}
	server: {
		addr:        string & !=""
		"grpc-addr": string
	}
	store: path:   string & !=""
	catalog: path: string
}
`

var (
	schemaOnce sync.Once
	schemaMu   sync.Mutex
	schemaCtx  *cue.Context
	schemaDef  cue.Value
	schemaErr  error
)

func loadSchema() {
	schemaCtx = cuecontext.New()
	v := schemaCtx.CompileString(schemaSource, cue.Filename("pagevm.cue"))
	if err := v.Err(); err != nil {
		schemaErr = fmt.Errorf("config: compile schema: %w", err)
		return
	}
	schemaDef = v.LookupPath(cue.ParsePath("#Config"))
}

// Validate checks c against the configuration schema.
func Validate(c *Config) error {
	schemaOnce.Do(loadSchema)
	if schemaErr != nil {
		return schemaErr
	}

	schemaMu.Lock()
	defer schemaMu.Unlock()

	v := schemaCtx.Encode(c)
	if err := v.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err := schemaDef.Unify(v).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}
