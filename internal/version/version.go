package version

// Version is the service version reported by /healthz and the MCP serverInfo.
const Version = "2.3"
