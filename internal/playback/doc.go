// Package playback decides how a media request reaches the decoder
// appliance. The appliance plays RTSP, RTMP and SRT natively; camera
// resources and everything else go through the relay first.
//
// Player also drives the appliance's stream source list: a URL that is
// already configured is cycled off and on so the appliance reloads it, and
// any other URL is loaded into a single managed source that the bridge owns.
// The daemon only plans playback; Play is for programs that embed this
// package and supply their own Decoder for the appliance.
package playback
