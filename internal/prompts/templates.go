package prompts

// DefaultExtractionTemplate is written by `config init` as a starting point.
const DefaultExtractionTemplate = `You are extracting the installation configuration of an MCP server.

Repository: {{VAR:full_name}}
Name: {{VAR:name}}
Description: {{VAR:description}}
Language: {{VAR:language}}
Topics: {{VAR:topics|join=", "}}
Homepage: {{VAR:homepage}}
Stars: {{VAR:stars}}

Repository files:
{{VAR:files_content}}

Respond with a single JSON object and nothing else:
{
  "name": "server name",
  "command": "executable used to start the server, e.g. npx, uvx, docker",
  "args": ["argument", "..."],
  "env": {
    "VAR_NAME": {"required": true, "description": "what it is for", "example": "example value"}
  },
  "install": "install command, or null",
  "confidence": 0.0,
  "warnings": ["anything uncertain"]
}
If the repository is not an MCP server, respond with {"error": "reason"}.
`

// DefaultValidationTemplate is written by `config init` as a starting point.
const DefaultValidationTemplate = `You are reviewing MCP server configurations extracted by another model.
Score each configuration from 0 to 10 for correctness and completeness.
{{VAR:configs_batch}}

Respond with a single JSON object and nothing else:
{"evaluations": [{"index": 0, "score": 8.5, "issues": ["problem found"]}]}
Include one evaluation per configuration, using the index shown in its heading.
`
