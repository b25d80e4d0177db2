/*
Command fdshare serves open file descriptors to unrelated processes, and
publishes served file descriptors as symbolic links.

	fdshare serve --socket NAME [--client-uid UID] --config-path FILE
	fdshare link --fd-socket NAME --parent DIR --marker FILE [--timeout DURATION]
	fdshare fetch --fd-socket NAME

The configuration file lists the bindings of source paths to target paths,
either as JSON (comments and trailing commas allowed) or, with a “.yaml” or
“.yml” suffix, as YAML:

	{
	    "file-bindings": [
	        { "source-path": "/etc/hostname", "target-path": "etc/hostname" },
	    ]
	}

“fdshare link” returns as soon as its background process has created the
marker file. The background process keeps the symbolic links beneath the
parent directory alive until the marker file gets deleted, and then removes
the parent directory. The background process logs to “fdshare-link.log” in
the directory containing the parent directory.

The log level defaults to “info” and can be set using the “--log-level” flag
or the FDSHARE_LOG_LEVEL environment variable.
*/
package main
