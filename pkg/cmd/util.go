// Copyright Consensys Software Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with
// the License. You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
// an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
// specific language governing permissions and limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0
package cmd

import (
	"fmt"
	"os"
	"path"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/mansallc/valueset/pkg/pcode"
	"github.com/mansallc/valueset/pkg/valueset"
)

// GetFlag gets an expected flag, or print the error and exit if one arises.
func GetFlag(cmd *cobra.Command, flag string) bool {
	r, err := cmd.Flags().GetBool(flag)
	if err != nil {
		fmt.Println(err)
		os.Exit(2)
	}

	return r
}

// GetString gets an expected string, or print the error and exit if one arises.
func GetString(cmd *cobra.Command, flag string) string {
	r, err := cmd.Flags().GetString(flag)
	if err != nil {
		fmt.Println(err)
		os.Exit(2)
	}

	return r
}

// GetStringArray gets an expected string array, or print the error and exit if one arises.
func GetStringArray(cmd *cobra.Command, flag string) []string {
	r, err := cmd.Flags().GetStringArray(flag)
	if err != nil {
		fmt.Println(err)
		os.Exit(2)
	}

	return r
}

// GetInt gets an expected int, or print the error and exit if one arises.
func GetInt(cmd *cobra.Command, flag string) int {
	r, err := cmd.Flags().GetInt(flag)
	if err != nil {
		fmt.Println(err)
		os.Exit(2)
	}

	return r
}

// GetUint64 gets an expected uint64, or print the error and exit if one arises.
func GetUint64(cmd *cobra.Command, flag string) uint64 {
	r, err := cmd.Flags().GetUint64(flag)
	if err != nil {
		fmt.Println(err)
		os.Exit(2)
	}

	return r
}

// ReadListingFile parses a pcode listing file into a function, using the
// basename of the file as the function name.
func ReadListingFile(filename string) *pcode.Function {
	bytes, err := os.ReadFile(filename)
	if err != nil {
		fmt.Println(err)
		os.Exit(2)
	}
	//
	name := path.Base(filename)
	name = name[:len(name)-len(path.Ext(name))]
	//
	fn, err := pcode.Parse(name, string(bytes))
	if err != nil {
		fmt.Println(err)
		os.Exit(2)
	}
	//
	return fn
}

// tomlConfig mirrors valueset.Config for decoding from a TOML file.
type tomlConfig struct {
	WideningThreshold int    `toml:"widening_threshold"`
	MaxIterations     int    `toml:"max_iterations"`
	MaxStep           uint64 `toml:"max_step"`
}

// solverConfig assembles the solver configuration from defaults, an optional
// TOML file and command-line overrides, in that order of precedence.
func solverConfig(cmd *cobra.Command) valueset.Config {
	config := valueset.DefaultConfig()
	//
	if filename := GetString(cmd, "config"); filename != "" {
		var decoded tomlConfig
		//
		if _, err := toml.DecodeFile(filename, &decoded); err != nil {
			fmt.Println(err)
			os.Exit(2)
		}
		//
		if decoded.WideningThreshold > 0 {
			config.WideningThreshold = decoded.WideningThreshold
		}
		//
		if decoded.MaxIterations > 0 {
			config.MaxIterations = decoded.MaxIterations
		}
		//
		if decoded.MaxStep > 0 {
			config.MaxStep = decoded.MaxStep
		}
	}
	//
	if cmd.Flags().Changed("widening") {
		config.WideningThreshold = GetInt(cmd, "widening")
	}
	//
	if cmd.Flags().Changed("max-iterations") {
		config.MaxIterations = GetInt(cmd, "max-iterations")
	}
	//
	if cmd.Flags().Changed("max-step") {
		config.MaxStep = GetUint64(cmd, "max-step")
	}
	//
	return config
}

// resolveSinks maps the --sink flags onto varnodes of the function.  Without
// explicit sinks, every varnode read by a conditional branch is analysed.
func resolveSinks(fn *pcode.Function, names []string) []*pcode.Varnode {
	var sinks []*pcode.Varnode
	//
	if len(names) == 0 {
		for _, block := range fn.Blocks() {
			if op := block.CBranch(); op != nil {
				sinks = append(sinks, op.Input(0))
			}
		}
		//
		return sinks
	}
	//
	for _, name := range names {
		vn := fn.Varnode(name)
		if vn == nil {
			fmt.Printf("unknown varnode %q\n", name)
			os.Exit(2)
		}
		//
		sinks = append(sinks, vn)
	}
	//
	return sinks
}

// resolveStackReg maps the --stack-reg flag onto a varnode, or nil when the
// flag was not given.
func resolveStackReg(fn *pcode.Function, name string) *pcode.Varnode {
	if name == "" {
		return nil
	}
	//
	vn := fn.Varnode(name)
	if vn == nil {
		fmt.Printf("unknown varnode %q\n", name)
		os.Exit(2)
	}
	//
	return vn
}
