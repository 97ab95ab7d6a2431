/*
Package cmd contains the command line interface of dHammer.

	dhammer run [flags]   start a load run against a storage backend
	dhammer version       print the version

Every flag of the run command can also be given as an environment variable
with the DHAMMER_ prefix (dashes become underscores), or in a .env or
.env.local file in the working directory.

Example:

	dhammer run --storage sqlite --location /tmp/hammer --workers 64 \
	    --retention 30s --delete-interval 5s --summary run.yaml
*/
package cmd
