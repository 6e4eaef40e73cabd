/*
Package cli holds helpers shared by the warden commands: output
formatters, a progress reporter for long exports, signal handling, and
the error types that map to exit codes.

Output Formatting:

Commands print results as text, JSON, YAML, or CSV. Tabular results
implement Table so the text and CSV formatters can lay them out:

	formatter, err := cli.NewFormatter(cli.FormatJSON)
	if err != nil {
		return err
	}
	return formatter.FormatTo(os.Stdout, result)

Signal Handling:

	ctx, stop := cli.SignalContext(cmd.Context())
	defer stop()
*/
package cli
