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

package registry

import (
	"relayhub/platform/connectors/base"
	"relayhub/platform/connectors/brevo"
	"relayhub/platform/connectors/convertkit"
	"relayhub/platform/connectors/dropbox"
	"relayhub/platform/connectors/gcalendar"
	"relayhub/platform/connectors/gdocs"
	httpconn "relayhub/platform/connectors/http"
	"relayhub/platform/connectors/leadsquared"
	"relayhub/platform/connectors/mongodb"
	"relayhub/platform/connectors/notion"
	"relayhub/platform/connectors/openai"
	"relayhub/platform/connectors/quickbase"
	"relayhub/platform/connectors/s3"
	"relayhub/platform/connectors/teams"
	"relayhub/platform/connectors/zoom"
)

// DefaultRegistry returns a registry with every shipped connector type.
// OpenAI instances report token usage to the WithRecorder recorder.
func DefaultRegistry(opts ...Option) *Registry {
	r := New(opts...)
	RegisterDefaults(r)
	return r
}

// RegisterDefaults adds the shipped connector factories to r
func RegisterDefaults(r *Registry) {
	r.RegisterFactory("s3", func() base.Connector { return s3.NewConnector() })
	r.RegisterFactory("dropbox", func() base.Connector { return dropbox.NewConnector() })
	r.RegisterFactory("gcalendar", func() base.Connector { return gcalendar.NewConnector() })
	r.RegisterFactory("gdocs", func() base.Connector { return gdocs.NewConnector() })
	r.RegisterFactory("notion", func() base.Connector { return notion.NewConnector() })
	r.RegisterFactory("quickbase", func() base.Connector { return quickbase.NewConnector() })
	r.RegisterFactory("zoom", func() base.Connector { return zoom.NewConnector() })
	r.RegisterFactory("leadsquared", func() base.Connector { return leadsquared.NewConnector() })
	r.RegisterFactory("teams", func() base.Connector { return teams.NewConnector() })
	r.RegisterFactory("mongodb", func() base.Connector { return mongodb.NewConnector() })
	r.RegisterFactory("brevo", func() base.Connector { return brevo.NewConnector() })
	r.RegisterFactory("convertkit", func() base.Connector { return convertkit.NewConnector() })
	r.RegisterFactory("http", func() base.Connector { return httpconn.NewConnector() })
	r.RegisterFactory("openai", func() base.Connector {
		c := openai.NewConnector()
		c.SetRecorder(r.Recorder())
		return c
	})
}
