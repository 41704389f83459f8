// Command questflow runs the multi-agent campaign engine.
//
//	questflow serve                        start the API server
//	questflow serve --config config.yaml   with a config file
//	questflow run --session demo --pcs kira,tomas --rounds 5
//	questflow version                      show version information
//	questflow health                       probe a running server
package main
