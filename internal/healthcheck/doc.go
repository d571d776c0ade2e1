// Package healthcheck probes each route's upstream on an interval and
// records its availability. Health is reported in logs and metrics only;
// requests are forwarded regardless.
package healthcheck
