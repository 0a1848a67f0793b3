// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

/*
Package config loads connector profiles and resolves their credentials.

# Environment Variable Convention

A profile named crm is read from RELAYHUB_CRM_*:

	RELAYHUB_CRM_TYPE=leadsquared
	RELAYHUB_CRM_TENANT_ID=acme
	RELAYHUB_CRM_ACCESS_KEY=...
	RELAYHUB_CRM_CRED_SECRET_KEY=...
	RELAYHUB_CRM_OPT_API_HOST=api-in21.leadsquared.com

	cfg, err := config.LoadFromEnv("crm")

LoadAllFromEnv returns every profile with a _TYPE variable.

# Profile Files

YAMLConfigFileLoader reads a versioned YAML file of profiles with
${VAR} and ${VAR:-default} expansion. GenerateExampleConfigFile prints a
starting point. ProfileLoader serves per-tenant profiles from the file,
falling back to the environment, with a TTL cache.

# Secrets

Profiles may carry a credential_ref option instead of inline secrets.
A SecretsManager resolves it:

  - AWSSecretsManager: AWS Secrets Manager, JSON or plain-string secrets,
    cached for CacheTTL
  - EnvSecretsManager: the reference is an environment variable prefix
  - LocalSecretsManager: in-memory, for development and tests

CredentialResolver merges the resolved secret under the inline
credentials and is what the registry and the action runner use.
*/
package config
