/*
 * Copyright 2025 The RuleGo Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package maps decodes loosely typed configuration maps into structs.
package maps

import "github.com/mitchellh/mapstructure"

// Map2Struct translates input into output, which must be a pointer to a map or struct.
// Input is weakly typed: "5s" decodes into a time.Duration, "a,b" into a []string,
// and numbers decode from strings.
func Map2Struct(input interface{}, output interface{}) error {
	return decode(input, output, false)
}

// Map2StructStrict is like Map2Struct but fails on keys that have no matching field.
func Map2StructStrict(input interface{}, output interface{}) error {
	return decode(input, output, true)
}

func decode(input interface{}, output interface{}, errorUnused bool) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		ErrorUnused:      errorUnused,
		Result:           output,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(input)
}
