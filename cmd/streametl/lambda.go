//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Copyright (C) 2025 Aaron Mathis aaron.mathis@gmail.com
//
// This file is part of StreamETL.
//
// StreamETL is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// StreamETL is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with StreamETL. If not, see https://www.gnu.org/licenses/.

package main

import (
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/spf13/cobra"
)

var lambdaCmd = &cobra.Command{
	Use:   "lambda",
	Short: "Run as an AWS Lambda function triggered by Kinesis",
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := newEnv(cfg).handler(cmd.Context())
		if err != nil {
			return err
		}
		// Blocks for the lifetime of the execution environment.
		lambda.StartWithOptions(h.Handle, lambda.WithContext(cmd.Context()))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(lambdaCmd)
}
