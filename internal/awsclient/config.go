// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package awsclient

// Config is the default region, role and endpoint applied to the storage
// and data exchange clients.
type Config struct {
	Region      string `mapstructure:"region"`
	RoleARN     string `mapstructure:"role_arn"`
	Endpoint    string `mapstructure:"endpoint"`
	S3PathStyle bool   `mapstructure:"s3_path_style"`
}

// Options turns the config into getter options.
func (c Config) Options() []Option {
	var opts []Option
	if c.Region != "" {
		opts = append(opts, WithRegion(c.Region))
	}
	if c.RoleARN != "" {
		opts = append(opts, WithRole(c.RoleARN))
	}
	if c.Endpoint != "" {
		opts = append(opts, WithEndpoint(c.Endpoint))
	}
	return opts
}

// S3Options is Options plus S3-only addressing.
func (c Config) S3Options() []Option {
	opts := c.Options()
	if c.S3PathStyle {
		opts = append(opts, WithPathStyle())
	}
	return opts
}
