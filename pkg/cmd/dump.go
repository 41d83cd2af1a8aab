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

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mansallc/valueset/pkg/pcode"
	"github.com/mansallc/valueset/pkg/valueset"
)

var dumpCmd = &cobra.Command{
	Use:   "dump [flags] listing_file",
	Short: "print the parsed form of a pcode listing.",
	Long: `Parse a pcode listing and print it back, together with the dominator tree.
	 With --yaml, run the solver and emit the resulting value sets as YAML.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		// Configure log level
		if GetFlag(cmd, "verbose") {
			log.SetLevel(log.DebugLevel)
		}
		//
		fn := ReadListingFile(args[0])
		//
		if GetFlag(cmd, "yaml") {
			dumpYaml(cmd, fn)
			return
		}
		//
		fmt.Print(fn.String())
		fmt.Println()
		//
		for _, block := range fn.Blocks() {
			if idom := block.Idom(); idom != nil && idom != block {
				fmt.Printf("%s: idom %s\n", block.Name(), idom.Name())
			} else {
				fmt.Printf("%s: entry\n", block.Name())
			}
		}
	},
}

// yamlValueSet is the machine-readable form of one solved value set.
type yamlValueSet struct {
	Varnode  string `yaml:"varnode"`
	Range    string `yaml:"range"`
	Relative bool   `yaml:"relative,omitempty"`
}

// yamlReport is the machine-readable form of a whole analysis run.
type yamlReport struct {
	Function   string         `yaml:"function"`
	Iterations int            `yaml:"iterations"`
	ValueSets  []yamlValueSet `yaml:"valuesets"`
}

// dumpYaml runs the solver over the function and writes the results to
// stdout as YAML.
func dumpYaml(cmd *cobra.Command, fn *pcode.Function) {
	sinks := resolveSinks(fn, GetStringArray(cmd, "sink"))
	stackReg := resolveStackReg(fn, GetString(cmd, "stack-reg"))
	//
	solver := valueset.NewSolver(fn, solverConfig(cmd))
	solver.EstablishValueSets(sinks, stackReg)
	solver.Solve(0)
	//
	report := yamlReport{Function: fn.Name(), Iterations: solver.NumIterations()}
	//
	for _, vs := range solver.ValueSets() {
		rng := vs.Range()
		report.ValueSets = append(report.ValueSets, yamlValueSet{
			Varnode:  vs.Varnode().Name(),
			Range:    rng.String(),
			Relative: vs.TypeCode() == valueset.TypeRelative,
		})
	}
	//
	bytes, err := yaml.Marshal(report)
	if err != nil {
		fmt.Println(err)
		os.Exit(2)
	}
	//
	fmt.Print(string(bytes))
}

func init() {
	rootCmd.AddCommand(dumpCmd)
	dumpCmd.Flags().Bool("yaml", false, "emit solved value sets as YAML")
	dumpCmd.Flags().StringArray("sink", nil, "varnode to analyse (repeatable)")
	dumpCmd.Flags().String("stack-reg", "", "varnode holding the stack pointer")
	dumpCmd.Flags().Int("widening", 0, "iterations before widening kicks in")
	dumpCmd.Flags().Int("max-iterations", 0, "upper bound on solver iterations")
	dumpCmd.Flags().Uint64("max-step", 0, "upper bound on the stride of any range")
}
