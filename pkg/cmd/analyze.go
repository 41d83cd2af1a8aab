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

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/mansallc/valueset/pkg/util/termio"
	"github.com/mansallc/valueset/pkg/valueset"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [flags] listing_file",
	Short: "determine the values each varnode may take.",
	Long: `Parse a pcode listing, run the value-set solver over the varnodes feeding the
	 given sinks and print the resulting range for each tracked varnode.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		// Configure log level
		if GetFlag(cmd, "verbose") {
			log.SetLevel(log.DebugLevel)
		}
		//
		fn := ReadListingFile(args[0])
		sinks := resolveSinks(fn, GetStringArray(cmd, "sink"))
		stackReg := resolveStackReg(fn, GetString(cmd, "stack-reg"))
		//
		if len(sinks) == 0 {
			fmt.Println("nothing to analyse (no sinks)")
			return
		}
		//
		solver := valueset.NewSolver(fn, solverConfig(cmd))
		solver.EstablishValueSets(sinks, stackReg)
		solver.Solve(0)
		//
		log.Debugf("solver converged after %d iterations", solver.NumIterations())
		//
		printValueSets(solver.ValueSets())
	},
}

// printValueSets renders one row per tracked varnode, bounding column widths
// by the terminal width when stdout is a terminal.  Ranges relative to the
// stack pointer are highlighted.
func printValueSets(results []*valueset.ValueSet) {
	var (
		tbl      = termio.NewTablePrinter(2, uint(len(results)))
		relative = termio.NewAnsiEscape().FgColour(termio.TERM_CYAN).Build()
	)
	//
	for i, vs := range results {
		rng := vs.Range()
		tbl.SetRow(uint(i), vs.Varnode().Name(), rng.String())
		//
		if vs.TypeCode() == valueset.TypeRelative {
			tbl.SetEscape(0, uint(i), relative)
			tbl.SetEscape(1, uint(i), relative)
		}
	}
	//
	if width, _, err := term.GetSize(1); err == nil {
		tbl.SetMaxWidths(uint(width) / 2)
	} else {
		tbl.AnsiEscapes(false)
	}
	//
	tbl.Print()
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
	analyzeCmd.Flags().StringArray("sink", nil, "varnode to analyse (repeatable)")
	analyzeCmd.Flags().String("stack-reg", "", "varnode holding the stack pointer")
	analyzeCmd.Flags().Int("widening", 0, "iterations before widening kicks in")
	analyzeCmd.Flags().Int("max-iterations", 0, "upper bound on solver iterations")
	analyzeCmd.Flags().Uint64("max-step", 0, "upper bound on the stride of any range")
}
