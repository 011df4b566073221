// Copyright 2026 the dmasafe Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package opts

import (
	"encoding/json"
	"io"
	"os"

	"packetdriver.org/dmasafe/internal/jsonutil"
)

var ErrUnknownJSONKey = InvalidError("unknown JSON key")

// OptsJSON loads options from a JSON stream. Absent keys keep their
// current values, so a config file only needs the fields it changes.
type OptsJSON struct {
	Src io.Reader
}

// Load implements Loader.
func (o OptsJSON) Load(opts *Opts) error {
	if o.Src == nil {
		return InvalidError("no source provided")
	}

	data, err := io.ReadAll(o.Src)
	if err != nil {
		return InvalidError(err.Error())
	}

	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return InvalidError(err.Error())
	}

	tags := jsonutil.Tags(opts)
	for key := range keys {
		if !contains(tags, key) {
			return ErrUnknownJSONKey
		}
	}

	if err := json.Unmarshal(data, opts); err != nil {
		return InvalidError(err.Error())
	}

	return nil
}

func contains(list []string, s string) bool {
	for _, l := range list {
		if l == s {
			return true
		}
	}

	return false
}

// OptsFile loads options from a JSON file.
type OptsFile struct {
	Path string
}

// Load implements Loader.
func (o OptsFile) Load(opts *Opts) error {
	file, err := os.Open(o.Path)
	if err != nil {
		return InvalidError(err.Error())
	}
	defer file.Close()

	return OptsJSON{Src: file}.Load(opts)
}
