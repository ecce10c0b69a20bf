package config

// DefaultConfigYAML is the starter configuration written by `djinnbot init`.
const DefaultConfigYAML = `# DjinnBot Configuration
# Values not specified here use sensible defaults.

server:
  host: 0.0.0.0
  port: 8080

log:
  level: info
  format: auto

store:
  path: .djinnbot/djinnbot.db

# Redis backs the event bus. Leave addr empty to run single-process with the
# in-memory bus.
redis:
  addr: ""
  db: 0

workspace:
  workspaces_dir: /data/workspaces
  shared_runs_dir: /data/runs
  # github_token falls back to the GITHUB_TOKEN environment variable.

# GitHub App credentials for installation tokens and pull requests.
# Leave empty to fall back to workspace.github_token.
github_app:
  app_id: ""
  private_key_path: ""

pulse:
  enabled: true
  # Agents the periodic scheduler wakes. Runtime guardrails (cooldown, caps)
  # live in the settings table and are adjustable through the API.
  agents: []
`
