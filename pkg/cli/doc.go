/*
Package cli provides command-line interface utilities for Mercator Relay.

The cli package includes output formatters, typed command errors, and signal
handling used by the relay command.

Output Formatting:

Commands that list things build a Table and render it in the format chosen
with --output (text, json or csv):

	format, err := cli.ParseFormat(flags.output)
	if err != nil {
		return err
	}
	table := &cli.Table{Headers: []string{"NAME", "STATUS"}, Records: accounts}
	table.AddRow("work", "ready")
	if err := cli.NewFormatter(format).FormatTo(os.Stdout, table); err != nil {
		return err
	}

Text output is column aligned. JSON output uses Table.Records when set, so
machine consumers get the full structure rather than the display columns.

Signal Handling:

For graceful shutdown on SIGINT/SIGTERM:

	ctx, stop := cli.SetupSignalHandler(cmd.Context())
	defer stop()
*/
package cli
