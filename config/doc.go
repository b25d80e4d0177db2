/*
Package config loads the list of file bindings a descriptor source serves.

Configuration files are either JSON – extended with comments and trailing
commas – or YAML, depending on the file name extension. Field names are
hyphenated, for instance:

	{
	  "file-bindings": [
	    // the order of bindings is the order of descriptors on the wire.
	    { "source-path": "/etc/hostname", "target-path": "/etc/hostname" },
	  ],
	}
*/
package config
